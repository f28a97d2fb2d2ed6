package domain

import (
	"context"
	"time"
)

// RunStatus is the terminal outcome of a task.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord is a persisted task run with its full transcript.
type RunRecord struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	Model      string    `json:"model"`
	Task       string    `json:"task"`
	Answer     string    `json:"answer,omitempty"`
	Status     RunStatus `json:"status"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	Messages   []Message `json:"messages"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// TranscriptStore persists task runs.
type TranscriptStore interface {
	Save(ctx context.Context, run RunRecord) error
	Recent(ctx context.Context, limit int) ([]RunRecord, error)
	Get(ctx context.Context, id string) (*RunRecord, error)
}
