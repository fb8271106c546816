package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"textrelay/internal/domain"
	"textrelay/internal/metrics"
)

const (
	defaultConcurrency   = 5
	defaultRateBurst     = 5
	defaultRatePerMinute = 60.0
	defaultDrainTimeout  = 10 * time.Second
	defaultApology       = "Sorry, I couldn't come up with a reply to that. Please try again in a bit."

	unavailableText = "Models are unavailable right now. Please try again in a bit."
)

// ModelRegistry is the subset of provider.Registry the relay needs.
type ModelRegistry interface {
	ListAll(ctx context.Context) ([]string, error)
	ResolvePrefix(ctx context.Context, input string) (string, error)
	IsKnown(ctx context.Context, model string) (bool, error)
	Classify(ctx context.Context, model string) (domain.BackendKind, error)
}

// Relay is the per-message dispatcher: it routes an inbound message to a
// command, or resolves a model, records the turn, calls the backend, records
// the reply and delivers it.
type Relay struct {
	registry   ModelRegistry
	defaults   domain.DefaultModelStore
	transcript domain.Transcript
	local      domain.LocalBackend
	hosted     domain.HostedBackend
	prompt     *PromptBuilder
	styles     StyleTable
	commands   *CommandInterpreter
	replier    domain.Replier
	media      domain.MediaStore
	bus        domain.MessageBus
	limiter    *RateLimiter
	apology    string
	logger     *slog.Logger

	concurrency  int
	drainTimeout time.Duration
}

// RelayConfig holds all dependencies and tuning parameters for the relay.
type RelayConfig struct {
	Registry   ModelRegistry
	Defaults   domain.DefaultModelStore
	Transcript domain.Transcript
	Local      domain.LocalBackend
	Hosted     domain.HostedBackend
	Prompt     *PromptBuilder
	Styles     StyleTable // nil means DefaultStyles
	Replier    domain.Replier
	Media      domain.MediaStore // optional
	Bus        domain.MessageBus // only needed by Run
	Limiter    *RateLimiter      // optional
	Apology    string
	Logger     *slog.Logger

	Concurrency  int           // max in-flight messages (default 5)
	DrainTimeout time.Duration // grace period for accepted messages after ctx is done (default 10s)
}

func NewRelay(cfg RelayConfig) *Relay {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Styles == nil {
		cfg.Styles = DefaultStyles()
	}
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder("", cfg.Logger)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(defaultRateBurst, defaultRatePerMinute)
	}
	if cfg.Apology == "" {
		cfg.Apology = defaultApology
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Relay{
		registry:   cfg.Registry,
		defaults:   cfg.Defaults,
		transcript: cfg.Transcript,
		local:      cfg.Local,
		hosted:     cfg.Hosted,
		prompt:     cfg.Prompt,
		styles:     cfg.Styles,
		replier:    cfg.Replier,
		media:      cfg.Media,
		bus:        cfg.Bus,
		limiter:    cfg.Limiter,
		apology:    cfg.Apology,
		logger:     cfg.Logger,
		commands: NewCommandInterpreter(CommandConfig{
			Registry: cfg.Registry,
			Defaults: cfg.Defaults,
			Local:    cfg.Local,
			Replier:  cfg.Replier,
			Logger:   cfg.Logger,
		}),
		concurrency:  cfg.Concurrency,
		drainTimeout: cfg.DrainTimeout,
	}
}

// Run consumes inbound messages with bounded concurrency until the bus is
// closed, then waits for in-flight messages. Every message taken off the bus
// was already accepted by the webhook, so handlers run on a context detached
// from ctx. Once ctx is done they get DrainTimeout to finish before their
// context is cancelled too.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("relay started", "concurrency", r.concurrency)

	handleCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	stopDrain := context.AfterFunc(ctx, func() {
		r.logger.Info("relay draining", "timeout", r.drainTimeout)
		timer := time.AfterFunc(r.drainTimeout, func() {
			r.logger.Warn("drain timeout reached, cancelling in-flight messages")
			cancel()
		})
		context.AfterFunc(handleCtx, func() { timer.Stop() })
	})
	defer stopDrain()

	sem := make(chan struct{}, r.concurrency)
	inbound := r.bus.Subscribe()
	var wg sync.WaitGroup
	defer wg.Wait()

	for msg := range inbound {
		metrics.QueueDepth.Set(float64(len(inbound)))
		sem <- struct{}{}
		wg.Add(1)
		go func(m domain.InboundMessage) {
			defer wg.Done()
			defer func() { <-sem }()
			r.Handle(handleCtx, m)
		}(msg)
	}
	r.logger.Info("inbound channel closed, relay stopping")
}

// Handle processes one inbound message to completion. Every failure ends in
// a reply to the sender or a log line; none is returned.
func (r *Relay) Handle(ctx context.Context, msg domain.InboundMessage) {
	logger := r.logger.With("request_id", msg.RequestID, "from", msg.FromNumber)
	logger.Info("processing message", "content_len", len(msg.Content), "media", msg.MediaURL != "")

	if cmd := ParseCommand(msg.Content); cmd != nil {
		metrics.InboundMessages.WithLabelValues(metrics.RouteCommand).Inc()
		r.commands.Execute(ctx, cmd, msg)
		return
	}

	text := msg.Content
	var (
		model    string
		provided string
		err      error
	)
	if strings.HasPrefix(text, "@") {
		provided, text = splitOverride(text)
		model, err = r.registry.ResolvePrefix(ctx, provided)
		logger.Info("model override", "requested", provided, "model", model)
	} else {
		model, err = r.defaults.Get(ctx)
		if err == nil && model == "" {
			err = domain.ErrModelNotFound
		}
	}
	if err != nil {
		r.resolveFailed(ctx, logger, msg, provided, err)
		return
	}

	if msg.MediaURL != "" && r.media != nil {
		if path, err := r.media.Save(ctx, msg.MediaURL); err != nil {
			logger.Warn("media download failed", "url", msg.MediaURL, "err", err)
		} else {
			logger.Info("media saved", "path", path)
		}
	}

	if strings.TrimSpace(text) == "" {
		metrics.InboundMessages.WithLabelValues(metrics.RouteEmpty).Inc()
		logger.Debug("empty text, nothing to do")
		return
	}
	metrics.InboundMessages.WithLabelValues(metrics.RouteModel).Inc()

	kind, err := r.registry.Classify(ctx, model)
	if err != nil {
		r.resolveFailed(ctx, logger, msg, model, err)
		return
	}

	if err := r.transcript.Append(ctx, domain.Turn{Role: domain.RoleUser, Content: text}); err != nil {
		logger.Error("record inbound turn failed", "err", err)
	}

	if err := r.replier.SendTypingIndicator(ctx, msg.FromNumber); err != nil {
		logger.Debug("typing indicator failed", "err", err)
	}

	reply, err := r.invoke(ctx, logger, kind, model, text)
	if err != nil {
		logger.Error("backend call failed", "backend", kind, "model", model, "err", err)
		r.deliver(ctx, logger, msg, r.apology, "")
		return
	}

	if err := r.transcript.Append(ctx, domain.Turn{Role: domain.RoleSystem, Content: reply}); err != nil {
		logger.Error("record reply turn failed", "err", err)
	}

	var style string
	if kind == domain.BackendLocal {
		style = r.styles.Match(msg.Content)
	}
	r.deliver(ctx, logger, msg, reply, style)
}

// splitOverride separates "@model rest of text" into the lowercased model
// token (with surrounding "@" removed) and the remaining text.
func splitOverride(content string) (model, text string) {
	words := strings.Split(content, " ")
	model = strings.ToLower(strings.Trim(words[0], "@"))
	return model, strings.Join(words[1:], " ")
}

func (r *Relay) resolveFailed(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, model string, err error) {
	switch {
	case errors.Is(err, domain.ErrModelNotFound):
		metrics.InboundMessages.WithLabelValues(metrics.RouteNotFound).Inc()
		logger.Info("model not found", "model", model)
		models, listErr := r.registry.ListAll(ctx)
		if listErr != nil {
			logger.Error("list models failed", "err", listErr)
			r.deliver(ctx, logger, msg, unavailableText, "")
			return
		}
		r.deliver(ctx, logger, msg, notFoundText(model, models), "")
	case errors.Is(err, domain.ErrAmbiguousModel):
		logger.Error("refusing to dispatch ambiguous model", "model", model, "err", err)
		r.deliver(ctx, logger, msg, r.apology, "")
	default:
		logger.Error("model resolution failed", "model", model, "err", err)
		r.deliver(ctx, logger, msg, r.apology, "")
	}
}

func (r *Relay) invoke(ctx context.Context, logger *slog.Logger, kind domain.BackendKind, model, text string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var turns []domain.Turn
	if kind == domain.BackendHosted {
		var err error
		turns, err = r.transcript.ReadAll(ctx)
		if err != nil {
			logger.Warn("read transcript failed, sending latest message only", "err", err)
			turns = []domain.Turn{{Role: domain.RoleUser, Content: text}}
		}
	}
	payload := r.prompt.Build(turns, kind, text)

	start := time.Now()
	var (
		reply string
		err   error
	)
	if kind == domain.BackendHosted {
		reply, err = r.hosted.Complete(ctx, model, payload.Turns)
	} else {
		reply, err = r.local.Generate(ctx, model, payload.Prompt)
	}

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, domain.ErrTimeout):
		outcome = metrics.OutcomeTimeout
	case err != nil:
		outcome = metrics.OutcomeError
	}
	metrics.ObserveBackend(string(kind), model, outcome, time.Since(start))
	logger.Info("backend replied", "backend", kind, "model", model, "outcome", outcome, "took", time.Since(start).Round(time.Millisecond))
	return reply, err
}

func (r *Relay) deliver(ctx context.Context, logger *slog.Logger, msg domain.InboundMessage, content, style string) {
	deliver(ctx, r.replier, logger, domain.OutboundMessage{Number: msg.FromNumber, Content: content, SendStyle: style})
}

// deliver sends out and records the outcome. Delivery failures are logged only.
func deliver(ctx context.Context, replier domain.Replier, logger *slog.Logger, out domain.OutboundMessage) {
	if err := replier.Send(ctx, out); err != nil {
		metrics.Deliveries.WithLabelValues(metrics.OutcomeError).Inc()
		logger.Error("reply delivery failed", "err", err)
		return
	}
	metrics.Deliveries.WithLabelValues(metrics.OutcomeOK).Inc()
}

func notFoundText(model string, models []string) string {
	return "Model " + model + " not found. Try one of these \n" + strings.Join(models, "\n")
}
