package agent

import (
	"testing"

	"textrelay/internal/domain"
)

func TestPromptBuilder_HostedCopiesTurns(t *testing.T) {
	b := NewPromptBuilder(" in under 100 words", testLogger())
	turns := []domain.Turn{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleSystem, Content: "hello"},
	}

	p := b.Build(turns, domain.BackendHosted, "hi")
	if len(p.Turns) != 2 || p.Turns[0] != turns[0] || p.Turns[1] != turns[1] {
		t.Fatalf("unexpected turns %+v", p.Turns)
	}
	if p.Prompt != "" {
		t.Fatalf("hosted payload has no prompt, got %q", p.Prompt)
	}

	p.Turns[0].Content = "mutated"
	if turns[0].Content != "hi" {
		t.Fatal("Build must not share the transcript slice")
	}
}

func TestPromptBuilder_LocalIgnoresTranscript(t *testing.T) {
	b := NewPromptBuilder(" in under 100 words", testLogger())
	turns := []domain.Turn{{Role: domain.RoleUser, Content: "earlier"}}

	p := b.Build(turns, domain.BackendLocal, "now")
	if p.Prompt != "now in under 100 words" {
		t.Fatalf("unexpected prompt %q", p.Prompt)
	}
	if p.Turns != nil {
		t.Fatalf("local payload carries no turns, got %+v", p.Turns)
	}
	if len(turns) != 1 || turns[0].Content != "earlier" {
		t.Fatal("transcript must be untouched")
	}
}
