package domain

import "context"

// Transcript is the bounded conversation log shared by all senders.
// Implementations serialize Append and ReadAll so that concurrent callers
// never lose a turn or observe a partial write.
type Transcript interface {
	Append(ctx context.Context, turn Turn) error
	ReadAll(ctx context.Context) ([]Turn, error)
}

// DefaultModelStore persists the process-wide default model.
// Get returns "" with a nil error when nothing has been stored yet.
type DefaultModelStore interface {
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, model string) error
}
