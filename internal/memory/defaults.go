package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"textrelay/internal/domain"
)

// FileDefaultStore keeps the default model as a single raw line in a file.
type FileDefaultStore struct {
	path string
	mu   sync.RWMutex
}

func NewFileDefaultStore(path string) *FileDefaultStore {
	return &FileDefaultStore{path: path}
}

// Get returns the stored model, or "" when the file is absent or empty.
func (s *FileDefaultStore) Get(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read default model: %w", domain.ErrPersistence, err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}

// Set overwrites the stored model unconditionally.
func (s *FileDefaultStore) Set(ctx context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path, []byte(model), 0o644); err != nil {
		return fmt.Errorf("%w: write default model: %w", domain.ErrPersistence, err)
	}
	return nil
}
