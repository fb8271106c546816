package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"textrelay/internal/domain"
)

const sendblueDefaultBase = "https://api.sendblue.co/api"

// SendblueClient delivers replies and typing indicators through the
// Sendblue REST API. It implements domain.Replier.
type SendblueClient struct {
	apiBase     string
	apiKey      string
	apiSecret   string
	callbackURL string
	client      *http.Client
	logger      *slog.Logger
}

type SendblueConfig struct {
	APIBase     string
	APIKey      string
	APISecret   string
	CallbackURL string
	Timeout     time.Duration
	Logger      *slog.Logger

	// Client overrides the default HTTP client (tests).
	Client *http.Client
}

func NewSendblueClient(cfg SendblueConfig) *SendblueClient {
	if cfg.APIBase == "" {
		cfg.APIBase = sendblueDefaultBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SendblueClient{
		apiBase:     strings.TrimRight(cfg.APIBase, "/"),
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		callbackURL: cfg.CallbackURL,
		client:      cfg.Client,
		logger:      cfg.Logger,
	}
}

type sendMessageRequest struct {
	Number         string `json:"number"`
	Content        string `json:"content"`
	StatusCallback string `json:"status_callback,omitempty"`
	SendStyle      string `json:"send_style,omitempty"`
}

type typingIndicatorRequest struct {
	Number string `json:"number"`
}

// Send delivers one reply.
func (s *SendblueClient) Send(ctx context.Context, msg domain.OutboundMessage) error {
	err := s.post(ctx, "/send-message", sendMessageRequest{
		Number:         msg.Number,
		Content:        msg.Content,
		StatusCallback: s.callbackURL,
		SendStyle:      msg.SendStyle,
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	s.logger.Debug("reply sent", "number", msg.Number, "content_len", len(msg.Content), "style", msg.SendStyle)
	return nil
}

func (s *SendblueClient) SendTypingIndicator(ctx context.Context, number string) error {
	if err := s.post(ctx, "/send-typing-indicator", typingIndicatorRequest{Number: number}); err != nil {
		return fmt.Errorf("send typing indicator: %w", err)
	}
	return nil
}

func (s *SendblueClient) post(ctx context.Context, path string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiBase+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("sb-api-key-id", s.apiKey)
	req.Header.Set("sb-api-secret-key", s.apiSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sendblue %s returned %d: %s", path, resp.StatusCode, string(excerpt))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
