package domain

import "context"

// BackendKind identifies which backend serves a model.
type BackendKind string

const (
	BackendLocal  BackendKind = "local"
	BackendHosted BackendKind = "hosted"
)

// Role is the speaker of a transcript turn. Only user and system are used.
type Role string

const (
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

// Turn is one entry of the shared conversation transcript.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// LocalBackend is a local inference server (Ollama API).
type LocalBackend interface {
	ListModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, model, prompt string) (string, error)
	Pull(ctx context.Context, name string) error
	Healthy(ctx context.Context) error
}

// HostedBackend is a hosted chat-completion API.
type HostedBackend interface {
	Models() []string
	Configured() bool
	Complete(ctx context.Context, model string, turns []Turn) (string, error)
}
