package agent

import (
	"log/slog"
	"slices"

	"textrelay/internal/domain"
)

// PromptPayload is what a backend call receives. Local calls use Prompt,
// hosted calls use Turns.
type PromptPayload struct {
	Prompt string
	Turns  []domain.Turn
}

// PromptBuilder shapes the transcript for a specific backend.
//
// The local backend does not see the transcript: it gets only the latest
// message text plus a length hint. Hosted calls get every turn in order
// with roles unchanged (user and system; no assistant role is produced).
type PromptBuilder struct {
	suffix string
	logger *slog.Logger
}

func NewPromptBuilder(suffix string, logger *slog.Logger) *PromptBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptBuilder{suffix: suffix, logger: logger}
}

// Build returns the payload for kind. turns is never modified.
func (b *PromptBuilder) Build(turns []domain.Turn, kind domain.BackendKind, text string) PromptPayload {
	switch kind {
	case domain.BackendHosted:
		return PromptPayload{Turns: slices.Clone(turns)}
	default:
		if len(turns) > 0 {
			b.logger.Debug("transcript context not supported for local backend", "turns", len(turns))
		}
		return PromptPayload{Prompt: text + b.suffix}
	}
}
