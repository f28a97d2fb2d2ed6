package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ollama-mcp-agents/internal/domain"
)

var _ domain.TranscriptStore = (*SQLiteStore)(nil)

// timeLayout is fixed-width so that timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements domain.TranscriptStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath
// and runs the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// WAL mode for concurrent reads while a run is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			agent_id    TEXT NOT NULL,
			model       TEXT NOT NULL DEFAULT '',
			task        TEXT NOT NULL,
			answer      TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			error_code  TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			messages    TEXT NOT NULL DEFAULT '[]',
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save inserts run, replacing any earlier record with the same ID.
func (s *SQLiteStore) Save(ctx context.Context, run domain.RunRecord) error {
	if run.ID == "" {
		return fmt.Errorf("save run: empty id")
	}
	msgs := run.Messages
	if msgs == nil {
		msgs = []domain.Message{}
	}
	msgJSON, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal run messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
			(id, agent_id, model, task, answer, status, error_code, error, messages, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.AgentID, run.Model, run.Task, run.Answer, string(run.Status),
		string(run.ErrorCode), run.Error, string(msgJSON),
		run.StartedAt.UTC().Format(timeLayout), run.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

const selectRuns = `SELECT id, agent_id, model, task, answer, status, error_code, error, messages, started_at, finished_at FROM runs`

// Recent returns up to limit runs, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+" ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Get returns the run with the given ID, or domain.ErrRunNotFound.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewDomainError("SQLiteStore.Get", domain.ErrRunNotFound, id)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*domain.RunRecord, error) {
	var r domain.RunRecord
	var status, code, msgStr, startedStr, finishedStr string
	if err := row.Scan(&r.ID, &r.AgentID, &r.Model, &r.Task, &r.Answer, &status,
		&code, &r.Error, &msgStr, &startedStr, &finishedStr); err != nil {
		return nil, err
	}
	r.Status = domain.RunStatus(status)
	r.ErrorCode = domain.ErrorCode(code)
	if err := json.Unmarshal([]byte(msgStr), &r.Messages); err != nil {
		return nil, fmt.Errorf("unmarshal run messages: %w", err)
	}
	r.StartedAt, _ = time.Parse(timeLayout, startedStr)
	r.FinishedAt, _ = time.Parse(timeLayout, finishedStr)
	return &r, nil
}
