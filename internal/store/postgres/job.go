package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// ClaimLease is how long a claim marker protects a job from being handed to
// another worker. A worker that dies mid-job loses its claim after the lease
// expires and the job becomes due again.
const ClaimLease = 5 * time.Minute

const jobFields = `id, kind, payload, run_at, attempts, last_error,
	locked_at, locked_by, completed_at, idempotency_key, created_at, updated_at`

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (*store.Job, error) {
	var j store.Job
	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &j.RunAt, &j.Attempts,
		&j.LastError, &j.LockedAt, &j.LockedBy, &j.CompletedAt,
		&j.IdempotencyKey, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// EnqueueJob inserts a new pending job. When idempotencyKey is non-empty and
// already held by another job, the existing row is returned unchanged: the
// insert is suppressed by the partial unique index, never by a prior read.
func (s *Store) EnqueueJob(ctx context.Context, tx store.DBTransaction, kind string, payload json.RawMessage, runAt time.Time, idempotencyKey string) (*store.Job, error) {
	if kind == "" {
		return nil, errors.New("enqueue: kind is required")
	}
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	if runAt.IsZero() {
		runAt = time.Now()
	}

	var key sql.NullString
	if idempotencyKey != "" {
		key = sql.NullString{String: idempotencyKey, Valid: true}
	}

	executor := s.executor(tx)

	query := fmt.Sprintf(`
		INSERT INTO jobs (id, kind, payload, run_at, attempts, idempotency_key)
		VALUES ($1, $2, $3, $4, 0, $5)
		ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
		RETURNING %s
	`, jobFields)

	job, err := scanJob(executor.QueryRowContext(ctx, query, uuid.New(), kind, payload, runAt, key))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}

	// Conflict: a job already holds this key.
	existing, err := s.GetJobByIdempotencyKey(ctx, tx, idempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load job for idempotency key: %w", err)
	}
	return existing, nil
}

// GetJobByIdempotencyKey returns the job holding the key, or store.ErrNotFound.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, tx store.DBTransaction, key string) (*store.Job, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}

	executor := s.executor(tx)
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE idempotency_key = $1`, jobFields)

	job, err := scanJob(executor.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimBatch atomically claims up to limit due jobs for workerID.
//
// The select-and-mark is a single statement: a CTE picks due rows with
// FOR UPDATE SKIP LOCKED and the outer UPDATE stamps the claim marker, so no
// two callers (in-process or cross-process) can receive the same row. Claims
// older than ClaimLease are treated as abandoned and become claimable again.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	query := fmt.Sprintf(`
		WITH due AS (
			SELECT id
			FROM jobs
			WHERE completed_at IS NULL
				AND run_at <= NOW()
				AND (locked_at IS NULL OR locked_at < NOW() - ($2 * INTERVAL '1 second'))
			ORDER BY run_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		UPDATE jobs
		SET locked_at = NOW(), locked_by = $3, updated_at = NOW()
		FROM due
		WHERE jobs.id = due.id
		RETURNING %s
	`, prefixJobFields("jobs."))

	rows, err := s.db.QueryContext(ctx, query, limit, ClaimLease.Seconds(), workerID)
	if err != nil {
		return nil, fmt.Errorf("claim batch query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("claim batch scan failed: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows error: %w", err)
	}

	return jobs, nil
}

// MarkJobCompleted terminally completes a job. A non-empty lastError records
// a handled domain failure alongside the completion.
func (s *Store) MarkJobCompleted(ctx context.Context, id uuid.UUID, lastError string) error {
	var errVal sql.NullString
	if lastError != "" {
		errVal = sql.NullString{String: lastError, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET completed_at = COALESCE(completed_at, NOW()),
			last_error = COALESCE($2, last_error),
			locked_at = NULL, locked_by = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, errVal)
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, err)
	}
	return requireRow(res, id)
}

// ReleaseJobForRetry records a transient failure and makes the job due again
// at nextRunAt.
func (s *Store) ReleaseJobForRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1, last_error = $2, run_at = $3,
			locked_at = NULL, locked_by = NULL, updated_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
	`, id, errMsg, nextRunAt)
	if err != nil {
		return fmt.Errorf("failed to release job %s for retry: %w", id, err)
	}
	return requireRow(res, id)
}

// FinalizeJobFailure terminates a job whose retry budget is exhausted.
func (s *Store) FinalizeJobFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1, last_error = $2,
			completed_at = COALESCE(completed_at, NOW()),
			locked_at = NULL, locked_by = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finalize job %s: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func prefixJobFields(prefix string) string {
	return prefix + `id, jobs.kind, jobs.payload, jobs.run_at, jobs.attempts,
	jobs.last_error, jobs.locked_at, jobs.locked_by, jobs.completed_at,
	jobs.idempotency_key, jobs.created_at, jobs.updated_at`
}
