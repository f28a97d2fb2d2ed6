package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollama-mcp-agents/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "history.db")
	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRun(id string, started time.Time) domain.RunRecord {
	return domain.RunRecord{
		ID:      id,
		AgentID: "calculator",
		Model:   "llama3.2",
		Task:    "What is 8 times 12?",
		Answer:  "96",
		Status:  domain.RunStatusSucceeded,
		Messages: []domain.Message{
			{Ordinal: 0, Role: domain.RoleUser, Content: "What is 8 times 12?"},
			{Ordinal: 1, Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "call_0", Name: "multiply", Arguments: json.RawMessage(`{"a":8,"b":12}`)},
			}},
			{Ordinal: 2, Role: domain.RoleTool, ToolCallID: "call_0", ToolName: "multiply", Content: "96"},
			{Ordinal: 3, Role: domain.RoleAssistant, Content: "96"},
		},
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
}

func TestSQLiteStoreSaveAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Save(ctx, sampleRun("run-1", started)))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "calculator", got.AgentID)
	assert.Equal(t, "96", got.Answer)
	assert.Equal(t, domain.RunStatusSucceeded, got.Status)
	assert.True(t, got.StartedAt.Equal(started), "StartedAt = %v", got.StartedAt)
	assert.Equal(t, 1500*time.Millisecond, got.FinishedAt.Sub(got.StartedAt))

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "multiply", got.Messages[1].ToolCalls[0].Name)
	assert.JSONEq(t, `{"a":8,"b":12}`, string(got.Messages[1].ToolCalls[0].Arguments))
	assert.Equal(t, 2, got.Messages[2].Ordinal)
	assert.Equal(t, "call_0", got.Messages[2].ToolCallID)
}

func TestSQLiteStoreFailedRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := domain.RunRecord{
		ID:         "run-failed",
		AgentID:    "search",
		Task:       "hi",
		Status:     domain.RunStatusFailed,
		ErrorCode:  domain.CodeToolUnavailable,
		Error:      "exec: not found",
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Get(ctx, "run-failed")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, domain.CodeToolUnavailable, got.ErrorCode)
	assert.Equal(t, "exec: not found", got.Error)
	assert.Empty(t, got.Messages)
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("Get missing = %v, want ErrRunNotFound", err)
	}
	assert.Equal(t, domain.CodeRunNotFound, domain.ErrorCodeOf(err))
}

func TestSQLiteStoreRecentNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Second-aligned and fractional timestamps must still sort correctly.
	offsets := []time.Duration{0, 500 * time.Millisecond, time.Second, 1100 * time.Millisecond}
	for i, off := range offsets {
		require.NoError(t, store.Save(ctx, sampleRun(fmt.Sprintf("run-%d", i), base.Add(off))))
	}

	runs, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
	assert.Equal(t, "run-1", runs[2].ID)

	none, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteStoreSaveReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := sampleRun("run-1", time.Now())
	require.NoError(t, store.Save(ctx, run))
	run.Answer = "ninety-six"
	require.NoError(t, store.Save(ctx, run))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ninety-six", got.Answer)

	runs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStoreRejectsEmptyID(t *testing.T) {
	store := newTestStore(t)
	assert.Error(t, store.Save(context.Background(), domain.RunRecord{}))
}
