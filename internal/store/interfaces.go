package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows us to pass either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// JobStore owns the durable job table: idempotent enqueue, the atomic claim
// protocol, and outcome bookkeeping.
type JobStore interface {
	// EnqueueJob inserts a new pending job. If idempotencyKey is non-empty and
	// a job with that key already exists, the existing row is returned
	// unchanged and nothing is inserted.
	EnqueueJob(ctx context.Context, tx DBTransaction, kind string, payload json.RawMessage, runAt time.Time, idempotencyKey string) (*Job, error)

	// ClaimBatch atomically claims up to limit due jobs for workerID using
	// SELECT ... FOR UPDATE SKIP LOCKED semantics. No two concurrent callers
	// ever receive the same row. Returns a nil slice when nothing is due.
	ClaimBatch(ctx context.Context, workerID string, limit int) ([]Job, error)

	// MarkJobCompleted terminally completes a job. lastError, when non-empty,
	// records a handled domain failure. completed_at is never cleared again.
	MarkJobCompleted(ctx context.Context, id uuid.UUID, lastError string) error

	// ReleaseJobForRetry records a transient failure: attempts+1, last_error,
	// lock cleared, run_at pushed to nextRunAt.
	ReleaseJobForRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) error

	// FinalizeJobFailure terminates a job whose retry budget is exhausted:
	// attempts+1, last_error, completed_at set.
	FinalizeJobFailure(ctx context.Context, id uuid.UUID, errMsg string) error

	// GetJobByIdempotencyKey returns the job holding the key, or ErrNotFound.
	GetJobByIdempotencyKey(ctx context.Context, tx DBTransaction, key string) (*Job, error)
}

// ScheduleStore handles recurring schedule rows and their breaker state.
type ScheduleStore interface {
	// GetSchedule returns a schedule by ID, or ErrNotFound.
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)

	// ListEnabledSchedules returns all schedules with enabled = true.
	ListEnabledSchedules(ctx context.Context) ([]Schedule, error)

	// RecordScheduleSuccess marks a successful run: last_run_at = now,
	// last_run_status = 'success', consecutive_failures = 0.
	RecordScheduleSuccess(ctx context.Context, id uuid.UUID) error

	// RecordScheduleFailure marks a failed run: consecutive_failures + 1 and
	// last_run_status = 'failed'. When the incremented count reaches
	// max_retries the schedule is disabled in the same statement.
	// Returns the post-update schedule state.
	RecordScheduleFailure(ctx context.Context, id uuid.UUID) (*Schedule, error)
}

// OutboxStore stages outbound webhooks for the delivery worker.
type OutboxStore interface {
	InsertOutboxEntry(ctx context.Context, tx DBTransaction, entry *OutboxEntry) error
}

// MessagingStore handles the contact/endpoint/thread/message graph used by
// the outbound send facade.
type MessagingStore interface {
	GetEndpointByAddress(ctx context.Context, tx DBTransaction, address string) (*Endpoint, error)
	CreateContact(ctx context.Context, tx DBTransaction, contact *Contact) error
	CreateEndpoint(ctx context.Context, tx DBTransaction, endpoint *Endpoint) error
	GetThreadByEndpoint(ctx context.Context, tx DBTransaction, endpointID uuid.UUID) (*Thread, error)
	CreateThread(ctx context.Context, tx DBTransaction, thread *Thread) error
	CreateMessage(ctx context.Context, tx DBTransaction, msg *Message) error
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)

	// SetMessageStatus transitions a message's delivery status, optionally
	// recording the provider reference or an error message.
	SetMessageStatus(ctx context.Context, id uuid.UUID, status MessageStatus, providerRef, errMsg string) error
}

// EmbeddingStore persists vectors produced by the embedding job kind.
type EmbeddingStore interface {
	UpsertEmbedding(ctx context.Context, resourceID, model string, vector json.RawMessage) error
}
