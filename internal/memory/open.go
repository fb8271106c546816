package memory

import (
	"fmt"
	"io"
	"log/slog"

	"textrelay/internal/config"
	"textrelay/internal/domain"
)

// Stores bundles the persistence backends selected by storage.driver.
type Stores struct {
	Transcript domain.Transcript
	Defaults   domain.DefaultModelStore
	closer     io.Closer
}

// Close releases the underlying database, if any.
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Open builds the transcript and default-model stores for the configured driver.
func Open(cfg config.StorageConfig, logger *slog.Logger) (*Stores, error) {
	switch cfg.Driver {
	case "", "file":
		return &Stores{
			Transcript: NewFileTranscript(FileTranscriptConfig{
				Path:     cfg.TranscriptPath(),
				MaxTurns: cfg.MaxTurns,
				Logger:   logger,
			}),
			Defaults: NewFileDefaultStore(cfg.DefaultModelPath()),
		}, nil
	case "sqlite":
		db, err := NewSQLiteStore(cfg.DBPath, cfg.MaxTurns, logger)
		if err != nil {
			return nil, err
		}
		return &Stores{Transcript: db, Defaults: db, closer: db}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
