package memory

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"textrelay/internal/domain"
	"textrelay/internal/metrics"
)

// DefaultMaxTurns is the number of most recent turns the transcript keeps.
const DefaultMaxTurns = 20

// FileTranscript stores the shared transcript as a line-oriented file,
// one "role,text" line per turn. Every Append rewrites the whole file
// through a temp-file rename, under a single mutex.
type FileTranscript struct {
	path     string
	maxTurns int
	logger   *slog.Logger
	mu       sync.Mutex
}

type FileTranscriptConfig struct {
	Path     string
	MaxTurns int
	Logger   *slog.Logger
}

func NewFileTranscript(cfg FileTranscriptConfig) *FileTranscript {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &FileTranscript{
		path:     cfg.Path,
		maxTurns: cfg.MaxTurns,
		logger:   cfg.Logger,
	}
}

// Append adds a turn and keeps only the most recent maxTurns turns.
func (t *FileTranscript) Append(ctx context.Context, turn domain.Turn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	turns, err := t.read()
	if err != nil {
		return err
	}
	turns = append(turns, turn)
	if len(turns) > t.maxTurns {
		turns = turns[len(turns)-t.maxTurns:]
	}

	var buf bytes.Buffer
	for _, tr := range turns {
		buf.WriteString(encodeTurn(tr))
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(t.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("%w: write transcript: %w", domain.ErrPersistence, err)
	}

	metrics.TranscriptTurns.Set(float64(len(turns)))
	t.logger.Debug("transcript appended", "role", turn.Role, "turns", len(turns))
	return nil
}

// ReadAll returns the stored turns, oldest first.
func (t *FileTranscript) ReadAll(ctx context.Context) ([]domain.Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.read()
}

func (t *FileTranscript) read() ([]domain.Turn, error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read transcript: %w", domain.ErrPersistence, err)
	}

	var turns []domain.Turn
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		turns = append(turns, decodeTurn(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan transcript: %w", domain.ErrPersistence, err)
	}
	return turns, nil
}

// Newlines and backslashes in content are escaped so each turn stays on one line.
var (
	lineEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	lineUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

func encodeTurn(t domain.Turn) string {
	return string(t.Role) + "," + lineEscaper.Replace(t.Content)
}

// decodeTurn parses a "role,text" line. Lines without a known role prefix
// are kept whole as user turns.
func decodeTurn(line string) domain.Turn {
	role, content, ok := strings.Cut(line, ",")
	if ok {
		switch r := domain.Role(role); r {
		case domain.RoleUser, domain.RoleSystem:
			return domain.Turn{Role: r, Content: lineUnescaper.Replace(content)}
		}
	}
	return domain.Turn{Role: domain.RoleUser, Content: lineUnescaper.Replace(line)}
}
