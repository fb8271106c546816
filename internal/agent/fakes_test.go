package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"

	"textrelay/internal/domain"
	"textrelay/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// --- Local backend ---

type generateCall struct {
	model, prompt string
}

type fakeLocal struct {
	mu        sync.Mutex
	models    []string
	reply     string
	genErr    error
	pullErr   error
	generated []generateCall
	pulled    []string

	listCalls     int
	failListAfter int // ListModels fails once it has been called this many times; 0 never fails
}

func (f *fakeLocal) ListModels(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.failListAfter > 0 && f.listCalls > f.failListAfter {
		return nil, errBackend
	}
	return slices.Clone(f.models), nil
}

func (f *fakeLocal) Generate(ctx context.Context, model, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated = append(f.generated, generateCall{model, prompt})
	if f.genErr != nil {
		return "", f.genErr
	}
	return f.reply, nil
}

func (f *fakeLocal) Pull(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, name)
	if f.pullErr != nil {
		return f.pullErr
	}
	f.models = append(f.models, name)
	return nil
}

func (f *fakeLocal) Healthy(ctx context.Context) error { return nil }

// --- Hosted backend ---

type fakeHosted struct {
	mu         sync.Mutex
	configured bool
	models     []string
	reply      string
	err        error
	calls      [][]domain.Turn
	modelsUsed []string
}

func (f *fakeHosted) Models() []string { return slices.Clone(f.models) }
func (f *fakeHosted) Configured() bool { return f.configured }

func (f *fakeHosted) Complete(ctx context.Context, model string, turns []domain.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(turns))
	f.modelsUsed = append(f.modelsUsed, model)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

// --- Stores ---

type fakeTranscript struct {
	mu     sync.Mutex
	turns  []domain.Turn
	writes int
	err    error
}

func (f *fakeTranscript) Append(ctx context.Context, t domain.Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.err != nil {
		return f.err
	}
	f.turns = append(f.turns, t)
	if len(f.turns) > 20 {
		f.turns = f.turns[len(f.turns)-20:]
	}
	return nil
}

func (f *fakeTranscript) ReadAll(ctx context.Context) ([]domain.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.turns), nil
}

type fakeDefaults struct {
	mu     sync.Mutex
	model  string
	sets   int
	setErr error
}

func (f *fakeDefaults) Get(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.model, nil
}

func (f *fakeDefaults) Set(ctx context.Context, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.model = model
	return nil
}

// --- Delivery ---

type fakeReplier struct {
	mu     sync.Mutex
	sent   []domain.OutboundMessage
	typing []string
}

func (f *fakeReplier) Send(ctx context.Context, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeReplier) SendTypingIndicator(ctx context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, number)
	return nil
}

func (f *fakeReplier) messages() []domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

type fakeMedia struct {
	saved []string
	err   error
}

func (f *fakeMedia) Save(ctx context.Context, url string) (string, error) {
	f.saved = append(f.saved, url)
	if f.err != nil {
		return "", f.err
	}
	return "media/x", nil
}

// blockingLocal holds every Generate call until release is closed or the
// call's context is done.
type blockingLocal struct {
	*fakeLocal
	started chan struct{}
	release chan struct{}
}

func (b *blockingLocal) Generate(ctx context.Context, model, prompt string) (string, error) {
	b.started <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return b.fakeLocal.Generate(ctx, model, prompt)
}

var errBackend = errors.New("boom")

// --- Harness ---

type harness struct {
	local      *fakeLocal
	hosted     *fakeHosted
	transcript *fakeTranscript
	defaults   *fakeDefaults
	replier    *fakeReplier
	media      *fakeMedia
	relay      *Relay
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		local:      &fakeLocal{models: []string{"llama2:latest", "llama2:7b"}, reply: "local reply"},
		hosted:     &fakeHosted{configured: true, models: []string{"gpt-3.5-turbo", "dall-e-2"}, reply: "hosted reply"},
		transcript: &fakeTranscript{},
		defaults:   &fakeDefaults{model: "llama2:latest"},
		replier:    &fakeReplier{},
		media:      &fakeMedia{},
	}
	h.relay = h.build()
	return h
}

func (h *harness) build() *Relay {
	logger := testLogger()
	return NewRelay(RelayConfig{
		Registry:   provider.NewRegistry(provider.RegistryConfig{Local: h.local, Hosted: h.hosted, Logger: logger}),
		Defaults:   h.defaults,
		Transcript: h.transcript,
		Local:      h.local,
		Hosted:     h.hosted,
		Prompt:     NewPromptBuilder(" in under 100 words", logger),
		Replier:    h.replier,
		Media:      h.media,
		Limiter:    NewRateLimiter(100, 0),
		Logger:     logger,
	})
}

func (h *harness) handle(content string) {
	h.relay.Handle(context.Background(), domain.InboundMessage{
		RequestID:  "req-1",
		Content:    content,
		FromNumber: "+15551234567",
	})
}
