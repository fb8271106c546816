package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"textrelay/internal/domain"
	"textrelay/internal/metrics"

	_ "modernc.org/sqlite"
)

const defaultModelKey = "default_model"

// SQLiteStore keeps the transcript and the default model in one SQLite
// database. It implements both domain.Transcript and domain.DefaultModelStore.
type SQLiteStore struct {
	db       *sql.DB
	maxTurns int
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewSQLiteStore(dbPath string, maxTurns int, logger *slog.Logger) (*SQLiteStore, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cannot create database directory %s: %w", domain.ErrPersistence, dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: cannot open database: %w", domain.ErrPersistence, err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, maxTurns: maxTurns, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: database migration failed: %w", domain.ErrPersistence, err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcript (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key         TEXT PRIMARY KEY,
		value       TEXT NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append inserts a turn and prunes everything but the newest maxTurns rows
// in the same transaction.
func (s *SQLiteStore) Append(ctx context.Context, turn domain.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", domain.ErrPersistence, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transcript (role, content, created_at) VALUES (?, ?, ?)`,
		string(turn.Role), turn.Content, time.Now(),
	); err != nil {
		return fmt.Errorf("%w: insert turn: %w", domain.ErrPersistence, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM transcript WHERE id NOT IN (
			SELECT id FROM transcript ORDER BY id DESC LIMIT ?
		)`, s.maxTurns,
	); err != nil {
		return fmt.Errorf("%w: prune transcript: %w", domain.ErrPersistence, err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcript`).Scan(&count); err != nil {
		return fmt.Errorf("%w: count transcript: %w", domain.ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", domain.ErrPersistence, err)
	}

	metrics.TranscriptTurns.Set(float64(count))
	return nil
}

// ReadAll returns the stored turns, oldest first.
func (s *SQLiteStore) ReadAll(ctx context.Context) ([]domain.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM transcript ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: query transcript: %w", domain.ErrPersistence, err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("%w: scan turn: %w", domain.ErrPersistence, err)
		}
		turns = append(turns, domain.Turn{Role: domain.Role(role), Content: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return turns, nil
}

// Get returns the stored default model, or "" when none is set.
func (s *SQLiteStore) Get(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var model string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, defaultModelKey,
	).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read default model: %w", domain.ErrPersistence, err)
	}
	return model, nil
}

// Set overwrites the stored default model.
func (s *SQLiteStore) Set(ctx context.Context, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		defaultModelKey, model, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("%w: write default model: %w", domain.ErrPersistence, err)
	}
	s.logger.Debug("default model stored", "model", model)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
