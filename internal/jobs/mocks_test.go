package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// mockJobStore implements store.JobStore for testing.
type mockJobStore struct {
	mu sync.Mutex

	ClaimBatchFunc func(ctx context.Context, workerID string, limit int) ([]store.Job, error)

	CompletedCalls []completedCall
	RetryCalls     []retryCall
	FinalizedCalls []finalizedCall
}

type completedCall struct {
	ID        uuid.UUID
	LastError string
}

type retryCall struct {
	ID        uuid.UUID
	ErrMsg    string
	NextRunAt time.Time
}

type finalizedCall struct {
	ID     uuid.UUID
	ErrMsg string
}

func (m *mockJobStore) EnqueueJob(ctx context.Context, tx store.DBTransaction, kind string, payload json.RawMessage, runAt time.Time, idempotencyKey string) (*store.Job, error) {
	return nil, nil
}

func (m *mockJobStore) ClaimBatch(ctx context.Context, workerID string, limit int) ([]store.Job, error) {
	if m.ClaimBatchFunc != nil {
		return m.ClaimBatchFunc(ctx, workerID, limit)
	}
	return nil, nil
}

func (m *mockJobStore) MarkJobCompleted(ctx context.Context, id uuid.UUID, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompletedCalls = append(m.CompletedCalls, completedCall{ID: id, LastError: lastError})
	return nil
}

func (m *mockJobStore) ReleaseJobForRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RetryCalls = append(m.RetryCalls, retryCall{ID: id, ErrMsg: errMsg, NextRunAt: nextRunAt})
	return nil
}

func (m *mockJobStore) FinalizeJobFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FinalizedCalls = append(m.FinalizedCalls, finalizedCall{ID: id, ErrMsg: errMsg})
	return nil
}

func (m *mockJobStore) GetJobByIdempotencyKey(ctx context.Context, tx store.DBTransaction, key string) (*store.Job, error) {
	return nil, store.ErrNotFound
}

// mockScheduleStore implements store.ScheduleStore for testing.
type mockScheduleStore struct {
	GetScheduleFunc func(ctx context.Context, id uuid.UUID) (*store.Schedule, error)
	FailureFunc     func(ctx context.Context, id uuid.UUID) (*store.Schedule, error)

	SuccessCalls []uuid.UUID
	FailureCalls []uuid.UUID
}

func (m *mockScheduleStore) GetSchedule(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	if m.GetScheduleFunc != nil {
		return m.GetScheduleFunc(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockScheduleStore) ListEnabledSchedules(ctx context.Context) ([]store.Schedule, error) {
	return nil, nil
}

func (m *mockScheduleStore) RecordScheduleSuccess(ctx context.Context, id uuid.UUID) error {
	m.SuccessCalls = append(m.SuccessCalls, id)
	return nil
}

func (m *mockScheduleStore) RecordScheduleFailure(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	m.FailureCalls = append(m.FailureCalls, id)
	if m.FailureFunc != nil {
		return m.FailureFunc(ctx, id)
	}
	return &store.Schedule{ID: id, Enabled: true, ConsecutiveFailures: 1, MaxRetries: 3}, nil
}

// mockOutboxStore implements store.OutboxStore for testing.
type mockOutboxStore struct {
	InsertFunc func(ctx context.Context, tx store.DBTransaction, entry *store.OutboxEntry) error

	Entries []store.OutboxEntry
}

func (m *mockOutboxStore) InsertOutboxEntry(ctx context.Context, tx store.DBTransaction, entry *store.OutboxEntry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, tx, entry)
	}
	entry.ID = int64(len(m.Entries) + 1)
	m.Entries = append(m.Entries, *entry)
	return nil
}

// mockEmbedder implements Embedder for testing.
type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, model, text string) (json.RawMessage, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, model, text string) (json.RawMessage, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, model, text)
	}
	return json.RawMessage(`[0.1,0.2]`), nil
}

// mockEmbeddingStore implements store.EmbeddingStore for testing.
type mockEmbeddingStore struct {
	Upserts map[string]json.RawMessage
}

func (m *mockEmbeddingStore) UpsertEmbedding(ctx context.Context, resourceID, model string, vector json.RawMessage) error {
	if m.Upserts == nil {
		m.Upserts = make(map[string]json.RawMessage)
	}
	m.Upserts[resourceID+"/"+model] = vector
	return nil
}
