package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return &Store{db: db}, mock
}

func jobColumns() []string {
	return []string{"id", "kind", "payload", "run_at", "attempts", "last_error",
		"locked_at", "locked_by", "completed_at", "idempotency_key",
		"created_at", "updated_at"}
}

func jobRow(id uuid.UUID, kind string, key interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(jobColumns()).
		AddRow(id, kind, []byte(`{}`), now, 0, nil, nil, nil, nil, key, now, now)
}

func TestEnqueueJob_Insert(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	runAt := time.Now()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs(sqlmock.AnyArg(), "send", []byte(`{"a":1}`), runAt, sqlmock.AnyArg()).
		WillReturnRows(jobRow(id, "send", "key-1"))

	job, err := s.EnqueueJob(context.Background(), nil, "send", json.RawMessage(`{"a":1}`), runAt, "key-1")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if job.ID != id {
		t.Errorf("got id %v, want %v", job.ID, id)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnqueueJob_IdempotentConflictReturnsExisting(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	existing := uuid.New()

	// ON CONFLICT DO NOTHING yields no row, then the existing job is read back.
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows(jobColumns()))
	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE idempotency_key`).
		WithArgs("key-1").
		WillReturnRows(jobRow(existing, "send", "key-1"))

	job, err := s.EnqueueJob(context.Background(), nil, "send", nil, time.Now(), "key-1")
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	if job.ID != existing {
		t.Errorf("got id %v, want existing %v", job.ID, existing)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEnqueueJob_RequiresKind(t *testing.T) {
	s, _ := newMockStore(t)
	defer s.db.Close()

	if _, err := s.EnqueueJob(context.Background(), nil, "", nil, time.Time{}, ""); err == nil {
		t.Error("expected error for missing kind")
	}
}

func TestClaimBatch_ClaimsDueJobs(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id1 := uuid.New()
	id2 := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows(jobColumns()).
		AddRow(id1, "send", []byte(`{}`), now, 0, nil, now, "w1", nil, nil, now, now).
		AddRow(id2, "fire_webhook", []byte(`{}`), now, 2, "boom", now, "w1", nil, nil, now, now)

	mock.ExpectQuery(`WITH due AS`).
		WithArgs(5, ClaimLease.Seconds(), "w1").
		WillReturnRows(rows)

	jobs, err := s.ClaimBatch(context.Background(), "w1", 5)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != id1 || jobs[1].ID != id2 {
		t.Errorf("unexpected job order: %v, %v", jobs[0].ID, jobs[1].ID)
	}
	if jobs[1].Attempts != 2 {
		t.Errorf("got attempts %d, want 2", jobs[1].Attempts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClaimBatch_EmptyQueue(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`WITH due AS`).
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	jobs, err := s.ClaimBatch(context.Background(), "w1", 10)
	if err != nil {
		t.Fatalf("ClaimBatch failed: %v", err)
	}
	if jobs != nil {
		t.Errorf("expected nil slice, got %v", jobs)
	}
}

func TestMarkJobCompleted(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(id, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkJobCompleted(context.Background(), id, ""); err != nil {
		t.Fatalf("MarkJobCompleted failed: %v", err)
	}
}

func TestMarkJobCompleted_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.MarkJobCompleted(context.Background(), id, "")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestReleaseJobForRetry(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	nextRunAt := time.Now().Add(20 * time.Second)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(id, "connection refused", nextRunAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ReleaseJobForRetry(context.Background(), id, "connection refused", nextRunAt); err != nil {
		t.Fatalf("ReleaseJobForRetry failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestFinalizeJobFailure(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	id := uuid.New()
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs(id, "gave up").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.FinalizeJobFailure(context.Background(), id, "gave up"); err != nil {
		t.Fatalf("FinalizeJobFailure failed: %v", err)
	}
}

func TestGetJobByIdempotencyKey_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT (.+) FROM jobs WHERE idempotency_key`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(jobColumns()))

	_, err := s.GetJobByIdempotencyKey(context.Background(), nil, "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
