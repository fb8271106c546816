package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"textrelay/internal/domain"
)

const (
	ollamaDefaultBase           = "http://ollama:11434/api"
	ollamaDefaultTimeout        = 120 * time.Second
	ollamaDefaultInstallTimeout = 30 * time.Minute
)

// Ollama implements domain.LocalBackend against the Ollama HTTP API.
// APIBase already includes the /api prefix.
type Ollama struct {
	apiBase        string
	timeout        time.Duration
	installTimeout time.Duration
	client         *http.Client
	logger         *slog.Logger
}

type OllamaConfig struct {
	APIBase        string
	Timeout        time.Duration
	InstallTimeout time.Duration
	Logger         *slog.Logger

	// Client overrides the shared pooled client (tests).
	Client *http.Client
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = ollamaDefaultTimeout
	}
	if cfg.InstallTimeout <= 0 {
		cfg.InstallTimeout = ollamaDefaultInstallTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ollama{
		apiBase:        strings.TrimRight(cfg.APIBase, "/"),
		timeout:        cfg.Timeout,
		installTimeout: cfg.InstallTimeout,
		client:         cfg.Client,
		logger:         cfg.Logger,
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Prompt string `json:"prompt"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

type ollamaPullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

type ollamaPullResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ListModels returns the installed model tags in server order.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := doWithRetry(ctx, o.client, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/tags", nil)
	}, o.logger)
	if err != nil {
		return nil, fmt.Errorf("list local models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama tags returned %d: %s",
			domain.ErrBackendUnavailable, resp.StatusCode, readErrorBody(resp.Body))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("%w: decode ollama tags: %w", domain.ErrBackendUnavailable, err)
	}

	models := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, m.Name)
	}
	return models, nil
}

// Generate runs a single non-streaming completion of prompt on model.
func (o *Ollama) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var out ollamaGenerateResponse
	status, err := o.postJSON(ctx, "/generate", ollamaGenerateRequest{Model: model, Prompt: prompt}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK || out.Error != "" {
		return "", fmt.Errorf("%w: ollama generate returned %d: %s", domain.ErrBackendCallFailed, status, out.Error)
	}
	return out.Response, nil
}

// Pull installs a model and blocks until the server reports completion.
func (o *Ollama) Pull(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, o.installTimeout)
	defer cancel()

	o.logger.Info("pulling model", "model", name)
	start := time.Now()

	var out ollamaPullResponse
	status, err := o.postJSON(ctx, "/pull", ollamaPullRequest{Name: name}, &out)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrInstallFailed, name, err)
	}
	if status != http.StatusOK || out.Error != "" {
		return fmt.Errorf("%w: %s: ollama pull returned %d: %s", domain.ErrInstallFailed, name, status, out.Error)
	}

	o.logger.Info("model pulled", "model", name, "status", out.Status, "took", time.Since(start).Round(time.Millisecond))
	return nil
}

func (o *Ollama) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/tags", nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama not reachable: %w", classifyTransportErr(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: ollama returned status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

// postJSON sends body and decodes the response into out regardless of status,
// since Ollama reports failures as {"error": "..."}. Transport failures are
// classified; the status code is returned for the caller to judge.
func (o *Ollama) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+path, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt := readErrorBody(resp.Body)
		_ = json.Unmarshal([]byte(excerpt), out)
		o.logger.Warn("ollama request failed", "path", path, "status", resp.StatusCode, "body", excerpt)
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decode ollama %s: %w", domain.ErrBackendCallFailed, path, err)
	}
	return resp.StatusCode, nil
}
