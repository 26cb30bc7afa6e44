package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

const scheduleFields = `id, skill_id, collection, cron_expression, webhook_url,
	webhook_headers, payload_template, enabled, max_retries,
	consecutive_failures, last_run_at, last_run_status, created_at, updated_at`

func scanSchedule(row interface {
	Scan(dest ...interface{}) error
}) (*store.Schedule, error) {
	var sc store.Schedule
	err := row.Scan(&sc.ID, &sc.SkillID, &sc.Collection, &sc.CronExpression,
		&sc.WebhookURL, &sc.WebhookHeaders, &sc.PayloadTemplate, &sc.Enabled,
		&sc.MaxRetries, &sc.ConsecutiveFailures, &sc.LastRunAt,
		&sc.LastRunStatus, &sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetSchedule returns a schedule by ID, or store.ErrNotFound.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE id = $1`, scheduleFields)

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schedule %s: %w", id, err)
	}
	return sched, nil
}

// ListEnabledSchedules returns all schedules eligible for cron firing.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]store.Schedule, error) {
	query := fmt.Sprintf(`SELECT %s FROM schedules WHERE enabled ORDER BY created_at`, scheduleFields)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []store.Schedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, *sched)
	}
	return schedules, rows.Err()
}

// RecordScheduleSuccess marks a successful run and resets the breaker.
func (s *Store) RecordScheduleSuccess(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET last_run_at = NOW(), last_run_status = $2,
			consecutive_failures = 0, updated_at = NOW()
		WHERE id = $1
	`, id, store.RunStatusSuccess)
	if err != nil {
		return fmt.Errorf("failed to record success for schedule %s: %w", id, err)
	}
	return requireScheduleRow(res, id)
}

// RecordScheduleFailure marks a failed run. The increment, the status change
// and the breaker trip happen in one UPDATE: when consecutive_failures + 1
// reaches max_retries the schedule is disabled by the same statement, so the
// breaker is correct under concurrent workers and across restarts.
func (s *Store) RecordScheduleFailure(ctx context.Context, id uuid.UUID) (*store.Schedule, error) {
	query := fmt.Sprintf(`
		UPDATE schedules
		SET consecutive_failures = consecutive_failures + 1,
			last_run_at = NOW(),
			last_run_status = $2,
			enabled = CASE
				WHEN consecutive_failures + 1 >= max_retries THEN FALSE
				ELSE enabled
			END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING %s
	`, scheduleFields)

	sched, err := scanSchedule(s.db.QueryRowContext(ctx, query, id, store.RunStatusFailed))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record failure for schedule %s: %w", id, err)
	}
	return sched, nil
}

func requireScheduleRow(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %s: %w", id, store.ErrNotFound)
	}
	return nil
}
