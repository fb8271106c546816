package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"textrelay/internal/domain"
	"textrelay/internal/metrics"
)

const maxWebhookBody = 1 << 20

// WebhookConfig configures the Sendblue webhook endpoint.
type WebhookConfig struct {
	Host         string
	Port         int
	MessagePath  string // default /msg
	CallbackPath string // default /callback
	MetricsPath  string // empty disables /metrics
	Bus          domain.MessageBus
	Logger       *slog.Logger
}

// Webhook receives inbound messages and delivery callbacks from Sendblue.
// Messages are queued on the bus; the relay answers asynchronously.
type Webhook struct {
	addr         string
	messagePath  string
	callbackPath string
	metricsPath  string
	bus          domain.MessageBus
	logger       *slog.Logger
	server       *http.Server
}

// sendbluePayload is the JSON body Sendblue posts for an inbound message.
// Callbacks use the same shape without media_url.
type sendbluePayload struct {
	AccountEmail  string  `json:"accountEmail"`
	Content       string  `json:"content"`
	MediaURL      string  `json:"media_url"`
	IsOutbound    bool    `json:"is_outbound"`
	Status        string  `json:"status"`
	ErrorCode     *int    `json:"error_code"`
	ErrorMessage  *string `json:"error_message"`
	MessageHandle string  `json:"message_handle"`
	DateSent      string  `json:"date_sent"`
	DateUpdated   string  `json:"date_updated"`
	FromNumber    string  `json:"from_number"`
	Number        string  `json:"number"`
	ToNumber      string  `json:"to_number"`
	WasDowngraded *bool   `json:"was_downgraded"`
	Plan          string  `json:"plan"`
}

func (p sendbluePayload) inbound(requestID string) domain.InboundMessage {
	return domain.InboundMessage{
		RequestID:     requestID,
		AccountEmail:  p.AccountEmail,
		Content:       p.Content,
		MediaURL:      p.MediaURL,
		IsOutbound:    p.IsOutbound,
		Status:        p.Status,
		ErrorCode:     p.ErrorCode,
		ErrorMessage:  p.ErrorMessage,
		MessageHandle: p.MessageHandle,
		DateSent:      p.DateSent,
		DateUpdated:   p.DateUpdated,
		FromNumber:    p.FromNumber,
		Number:        p.Number,
		ToNumber:      p.ToNumber,
		WasDowngraded: p.WasDowngraded,
		Plan:          p.Plan,
		ReceivedAt:    time.Now(),
	}
}

func (p sendbluePayload) callback() domain.CallbackStatus {
	return domain.CallbackStatus{
		AccountEmail:  p.AccountEmail,
		Content:       p.Content,
		IsOutbound:    p.IsOutbound,
		Status:        p.Status,
		ErrorCode:     p.ErrorCode,
		ErrorMessage:  p.ErrorMessage,
		MessageHandle: p.MessageHandle,
		DateSent:      p.DateSent,
		DateUpdated:   p.DateUpdated,
		FromNumber:    p.FromNumber,
		Number:        p.Number,
		ToNumber:      p.ToNumber,
		WasDowngraded: p.WasDowngraded,
		Plan:          p.Plan,
	}
}

// NewWebhook creates the webhook endpoint.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.MessagePath == "" {
		cfg.MessagePath = "/msg"
	}
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/callback"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		messagePath:  cfg.MessagePath,
		callbackPath: cfg.CallbackPath,
		metricsPath:  cfg.MetricsPath,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
	}
}

// Handler returns the chi router with all routes mounted.
func (w *Webhook) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post(w.messagePath, w.handleMessage)
	r.Post(w.callbackPath, w.handleCallback)

	if w.metricsPath != "" {
		r.Handle(w.metricsPath, metrics.Handler())
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (w *Webhook) Start(ctx context.Context) error {
	w.server = &http.Server{
		Addr:              w.addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	w.logger.Info("webhook server starting", "addr", w.addr, "message_path", w.messagePath, "callback_path", w.callbackPath)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) handleMessage(rw http.ResponseWriter, r *http.Request) {
	var payload sendbluePayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}
	if payload.FromNumber == "" {
		writeError(rw, http.StatusBadRequest, "from_number is required")
		return
	}

	requestID := uuid.NewString()
	msg := payload.inbound(requestID)

	w.logger.Info("message received",
		"request_id", requestID,
		"chi_request_id", middleware.GetReqID(r.Context()),
		"from", msg.FromNumber,
		"handle", msg.MessageHandle,
		"content_len", len(msg.Content),
		"media", msg.MediaURL != "",
	)

	rw.Header().Set("X-Request-Id", requestID)
	if !w.bus.Publish(msg) {
		writeError(rw, http.StatusServiceUnavailable, "relay queue full")
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "accepted", "request_id": requestID})
}

func (w *Webhook) handleCallback(rw http.ResponseWriter, r *http.Request) {
	var payload sendbluePayload
	if err := decodeBody(r, &payload); err != nil {
		writeError(rw, http.StatusBadRequest, err.Error())
		return
	}

	cb := payload.callback()
	status := cb.Status
	if status == "" {
		status = "unknown"
	}
	metrics.DeliveryCallbacks.WithLabelValues(status).Inc()

	attrs := []any{"status", cb.Status, "handle", cb.MessageHandle, "number", cb.Number}
	if cb.ErrorCode != nil || cb.ErrorMessage != nil {
		attrs = append(attrs, "error_code", derefInt(cb.ErrorCode), "error_message", derefString(cb.ErrorMessage))
		w.logger.Warn("delivery callback reported an error", attrs...)
	} else {
		w.logger.Info("delivery callback", attrs...)
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.New("invalid JSON")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
