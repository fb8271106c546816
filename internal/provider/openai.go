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
	openAIDefaultBase    = "https://api.openai.com/v1"
	openAIDefaultTimeout = 60 * time.Second
)

// DefaultHostedModels is the compiled-in hosted allow-list.
var DefaultHostedModels = []string{"gpt-3.5-turbo", "dall-e-2"}

// OpenAI implements domain.HostedBackend for the chat-completions API.
// The model list is static; it never queries /models.
type OpenAI struct {
	apiKey  string
	apiBase string
	models  []string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey  string
	APIBase string
	Models  []string
	Timeout time.Duration
	Logger  *slog.Logger

	// Client overrides the shared pooled client (tests).
	Client *http.Client
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.APIBase == "" {
		cfg.APIBase = openAIDefaultBase
	}
	if len(cfg.Models) == 0 {
		cfg.Models = DefaultHostedModels
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = openAIDefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = SharedHTTPClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		models:  append([]string(nil), cfg.Models...),
		timeout: cfg.Timeout,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

func (o *OpenAI) Models() []string { return append([]string(nil), o.models...) }
func (o *OpenAI) Configured() bool { return o.apiKey != "" }

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
}

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiResponse struct {
	Choices []struct {
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends turns as-is and returns the first choice's content.
func (o *OpenAI) Complete(ctx context.Context, model string, turns []domain.Turn) (string, error) {
	if !o.Configured() {
		return "", fmt.Errorf("%w: hosted credential not configured", domain.ErrBackendUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	msgs := make([]oaiMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, oaiMessage{Role: string(t.Role), Content: t.Content})
	}

	jsonBody, err := json.Marshal(oaiRequest{Model: model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", classifyTransportErr(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: openai %d: %s", domain.ErrBackendCallFailed, resp.StatusCode, readErrorBody(resp.Body))
	}

	var oaiResp oaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return "", fmt.Errorf("%w: decode: %w", domain.ErrBackendCallFailed, err)
	}
	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", domain.ErrBackendCallFailed)
	}

	o.logger.Debug("openai completion",
		"model", model, "finish_reason", oaiResp.Choices[0].FinishReason, "tokens", oaiResp.Usage.TotalTokens)
	return oaiResp.Choices[0].Message.Content, nil
}
