package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"textrelay/internal/domain"
	"textrelay/internal/provider"
)

// --- Routing ---

func TestRelay_DefaultModelGoesToLocal(t *testing.T) {
	h := newHarness(t)
	h.handle("tell me a joke")

	if len(h.local.generated) != 1 {
		t.Fatalf("expected 1 local call, got %d", len(h.local.generated))
	}
	call := h.local.generated[0]
	if call.model != "llama2:latest" || call.prompt != "tell me a joke in under 100 words" {
		t.Fatalf("unexpected call %+v", call)
	}
	if len(h.hosted.calls) != 0 {
		t.Fatal("hosted backend must not be called")
	}

	sent := h.replier.messages()
	if len(sent) != 1 || sent[0].Content != "local reply" || sent[0].Number != "+15551234567" {
		t.Fatalf("unexpected deliveries %+v", sent)
	}
	if len(h.replier.typing) != 1 {
		t.Fatalf("expected a typing indicator, got %d", len(h.replier.typing))
	}
}

func TestRelay_OverrideStripsTokenAndUsesHosted(t *testing.T) {
	h := newHarness(t)
	h.handle("@gpt hello")

	if len(h.hosted.calls) != 1 {
		t.Fatalf("expected 1 hosted call, got %d", len(h.hosted.calls))
	}
	if h.hosted.modelsUsed[0] != "gpt-3.5-turbo" {
		t.Fatalf("expected gpt-3.5-turbo, got %q", h.hosted.modelsUsed[0])
	}
	turns := h.hosted.calls[0]
	if last := turns[len(turns)-1]; last.Role != domain.RoleUser || last.Content != "hello" {
		t.Fatalf("expected stripped user turn 'hello', got %+v", last)
	}
	if len(h.local.generated) != 0 {
		t.Fatal("local backend must not be called")
	}

	want := []domain.Turn{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleSystem, Content: "hosted reply"},
	}
	if fmt.Sprint(h.transcript.turns) != fmt.Sprint(want) {
		t.Fatalf("unexpected transcript %+v", h.transcript.turns)
	}
}

func TestRelay_OverrideIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	h.handle("@LLAMA2:7 hi")

	if len(h.local.generated) != 1 || h.local.generated[0].model != "llama2:7b" {
		t.Fatalf("expected llama2:7b, got %+v", h.local.generated)
	}
}

func TestRelay_HostedSeesWholeTranscript(t *testing.T) {
	h := newHarness(t)
	h.handle("first")
	h.handle("@gpt second")

	turns := h.hosted.calls[0]
	want := []string{"first", "local reply", "second"}
	if len(turns) != len(want) {
		t.Fatalf("expected %d turns, got %+v", len(want), turns)
	}
	for i, w := range want {
		if turns[i].Content != w {
			t.Fatalf("turn %d: expected %q, got %q", i, w, turns[i].Content)
		}
	}
}

// --- Send style ---

func TestRelay_LocalReplyGetsStyleFromInboundText(t *testing.T) {
	h := newHarness(t)
	h.handle("It's my BIRTHDAY today")

	sent := h.replier.messages()
	if len(sent) != 1 || sent[0].SendStyle != "balloons" {
		t.Fatalf("expected balloons style, got %+v", sent)
	}
}

func TestRelay_HostedReplyHasNoStyle(t *testing.T) {
	h := newHarness(t)
	h.handle("@gpt happy birthday")

	sent := h.replier.messages()
	if len(sent) != 1 || sent[0].SendStyle != "" {
		t.Fatalf("expected no style, got %+v", sent)
	}
}

// --- Failures ---

func TestRelay_FailedGenerationLeavesTranscriptAndApologises(t *testing.T) {
	h := newHarness(t)
	h.local.genErr = fmt.Errorf("%w: 500", domain.ErrBackendCallFailed)

	h.handle("hello")

	if len(h.transcript.turns) != 1 || h.transcript.turns[0].Role != domain.RoleUser {
		t.Fatalf("expected only the inbound turn, got %+v", h.transcript.turns)
	}
	sent := h.replier.messages()
	if len(sent) != 1 || sent[0].Content != defaultApology {
		t.Fatalf("expected exactly one apology, got %+v", sent)
	}
	if strings.Contains(sent[0].Content, "500") {
		t.Fatal("raw backend error must not reach the sender")
	}
}

func TestRelay_HostedFailureApologises(t *testing.T) {
	h := newHarness(t)
	h.hosted.err = errBackend

	h.handle("@dall draw a cat")

	sent := h.replier.messages()
	if len(sent) != 1 || sent[0].Content != defaultApology {
		t.Fatalf("expected apology, got %+v", sent)
	}
	for _, turn := range h.transcript.turns {
		if turn.Role == domain.RoleSystem {
			t.Fatalf("no system turn expected, got %+v", h.transcript.turns)
		}
	}
}

func TestRelay_UnknownOverrideListsModels(t *testing.T) {
	h := newHarness(t)
	h.handle("@mistral hi")

	sent := h.replier.messages()
	if len(sent) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(sent))
	}
	want := "Model mistral not found. Try one of these \nllama2:latest\nllama2:7b\ngpt-3.5-turbo\ndall-e-2"
	if sent[0].Content != want {
		t.Fatalf("unexpected reply %q", sent[0].Content)
	}
	if h.transcript.writes != 0 || len(h.local.generated) != 0 || len(h.hosted.calls) != 0 {
		t.Fatal("no transcript write or backend call expected")
	}
}

func TestRelay_AmbiguousModelIsRefused(t *testing.T) {
	h := newHarness(t)
	h.local.models = append(h.local.models, "gpt-3.5-turbo")

	h.handle("@gpt-3.5 hi")

	if len(h.local.generated) != 0 || len(h.hosted.calls) != 0 {
		t.Fatal("no backend call expected for an ambiguous model")
	}
	if h.transcript.writes != 0 {
		t.Fatal("no transcript write expected")
	}
	if sent := h.replier.messages(); len(sent) != 1 || sent[0].Content != defaultApology {
		t.Fatalf("expected apology, got %+v", sent)
	}
}

func TestRelay_NoDefaultModel(t *testing.T) {
	h := newHarness(t)
	h.defaults.model = ""

	h.handle("hi")

	sent := h.replier.messages()
	if len(sent) != 1 || !strings.HasPrefix(sent[0].Content, "Model  not found.") {
		t.Fatalf("expected not-found reply, got %+v", sent)
	}
}

// --- Empty text ---

func TestRelay_EmptyTextDoesNothing(t *testing.T) {
	for _, content := range []string{"", "   ", "@llama2", "@gpt "} {
		h := newHarness(t)
		h.handle(content)

		if h.transcript.writes != 0 {
			t.Fatalf("%q: expected zero transcript writes, got %d", content, h.transcript.writes)
		}
		if n := len(h.replier.messages()); n != 0 {
			t.Fatalf("%q: expected zero deliveries, got %d", content, n)
		}
	}
}

// --- Media ---

func TestRelay_MediaIsSavedBestEffort(t *testing.T) {
	h := newHarness(t)
	h.media.err = errBackend

	h.relay.Handle(context.Background(), domain.InboundMessage{
		Content:    "what is this",
		MediaURL:   "https://cdn.example.com/files/cat.jpg",
		FromNumber: "+15551234567",
	})

	if len(h.media.saved) != 1 {
		t.Fatalf("expected media download attempt, got %v", h.media.saved)
	}
	if sent := h.replier.messages(); len(sent) != 1 || sent[0].Content != "local reply" {
		t.Fatalf("media failure must not change the reply, got %+v", sent)
	}
}

// --- Run ---

type chanBus struct{ ch chan domain.InboundMessage }

func (b *chanBus) Publish(m domain.InboundMessage) bool    { b.ch <- m; return true }
func (b *chanBus) Subscribe() <-chan domain.InboundMessage { return b.ch }
func (b *chanBus) Close()                                  { close(b.ch) }

func TestRelay_RunDrainsBus(t *testing.T) {
	h := newHarness(t)
	bus := &chanBus{ch: make(chan domain.InboundMessage, 10)}
	h.relay.bus = bus

	for i := 0; i < 5; i++ {
		bus.Publish(domain.InboundMessage{Content: fmt.Sprintf("m%d", i), FromNumber: "+1"})
	}
	bus.Close()

	done := make(chan struct{})
	go func() {
		h.relay.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after the bus closed")
	}

	if n := len(h.replier.messages()); n != 5 {
		t.Fatalf("expected 5 replies, got %d", n)
	}
	if len(h.transcript.turns) != 10 {
		t.Fatalf("expected 10 turns, got %d", len(h.transcript.turns))
	}
}

func newBlockingRelay(h *harness, bus *chanBus, drain time.Duration) (*Relay, *blockingLocal) {
	local := &blockingLocal{
		fakeLocal: h.local,
		started:   make(chan struct{}, 10),
		release:   make(chan struct{}),
	}
	logger := testLogger()
	relay := NewRelay(RelayConfig{
		Registry:     provider.NewRegistry(provider.RegistryConfig{Local: local, Hosted: h.hosted, Logger: logger}),
		Defaults:     h.defaults,
		Transcript:   h.transcript,
		Local:        local,
		Hosted:       h.hosted,
		Replier:      h.replier,
		Bus:          bus,
		Limiter:      NewRateLimiter(100, 0),
		Logger:       logger,
		Concurrency:  1,
		DrainTimeout: drain,
	})
	return relay, local
}

func TestRelay_ShutdownFinishesAcceptedMessages(t *testing.T) {
	h := newHarness(t)
	bus := &chanBus{ch: make(chan domain.InboundMessage, 10)}
	relay, local := newBlockingRelay(h, bus, 5*time.Second)

	bus.Publish(domain.InboundMessage{Content: "in flight", FromNumber: "+1"})
	bus.Publish(domain.InboundMessage{Content: "queued", FromNumber: "+2"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	select {
	case <-local.started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}

	// Shutdown signal arrives while the first message is generating.
	cancel()
	bus.Close()
	close(local.release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop after the bus closed")
	}

	sent := h.replier.messages()
	if len(sent) != 2 {
		t.Fatalf("expected a reply for both accepted messages, got %+v", sent)
	}
	for _, m := range sent {
		if m.Content != "local reply" {
			t.Fatalf("expected generated reply, got %q to %s", m.Content, m.Number)
		}
	}
	if len(h.transcript.turns) != 4 {
		t.Fatalf("expected user and reply turns for both messages, got %+v", h.transcript.turns)
	}
}

func TestRelay_DrainTimeoutCancelsStuckMessages(t *testing.T) {
	h := newHarness(t)
	bus := &chanBus{ch: make(chan domain.InboundMessage, 10)}
	relay, local := newBlockingRelay(h, bus, 20*time.Millisecond)

	bus.Publish(domain.InboundMessage{Content: "stuck", FromNumber: "+1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	select {
	case <-local.started:
	case <-time.After(5 * time.Second):
		t.Fatal("generation never started")
	}
	cancel()
	bus.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("drain timeout did not cancel the stuck message")
	}

	if sent := h.replier.messages(); len(sent) != 1 || sent[0].Content != defaultApology {
		t.Fatalf("expected apology after drain timeout, got %+v", sent)
	}
}

func TestRelay_NotFoundWithModelsUnavailable(t *testing.T) {
	h := newHarness(t)
	// Resolution succeeds in listing, the follow-up listing for the reply fails.
	h.local.failListAfter = 1

	h.handle("@mistral hi")

	sent := h.replier.messages()
	if len(sent) != 1 || sent[0].Content != unavailableText {
		t.Fatalf("expected unavailable reply, got %+v", sent)
	}
}
