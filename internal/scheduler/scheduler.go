// Package scheduler turns cron expressions on enabled schedules into
// fire_webhook jobs. It only enqueues; execution and breaker accounting
// belong to the job processor and the fire_webhook handler.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/troykelly/openclaw-projects/internal/jobs"
	"github.com/troykelly/openclaw-projects/internal/store"
)

// Scheduler periodically scans enabled schedules and enqueues a firing job
// for each one that is due. Multiple scheduler instances may run against
// the same database: firings carry a per-tick idempotency key, so duplicate
// scans coalesce into one job.
type Scheduler struct {
	schedules store.ScheduleStore
	jobs      store.JobStore
	log       *slog.Logger
	now       func() time.Time
}

// New creates a scheduler.
func New(schedules store.ScheduleStore, jobStore store.JobStore, log *slog.Logger) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		jobs:      jobStore,
		log:       log,
		now:       time.Now,
	}
}

// Run scans on a fixed interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.log.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick enqueues one fire_webhook job for every enabled schedule that is due,
// returning how many were enqueued. A schedule with an unparseable cron
// expression is logged and skipped, never fatal to the tick.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	schedules, err := s.schedules.ListEnabledSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list schedules: %w", err)
	}

	now := s.now()
	enqueued := 0
	for i := range schedules {
		sched := &schedules[i]

		fireAt, due, err := nextFire(sched, now)
		if err != nil {
			s.log.Error("skipping schedule with invalid cron expression",
				"schedule_id", sched.ID, "cron", sched.CronExpression, "error", err)
			continue
		}
		if !due {
			continue
		}

		payload, err := json.Marshal(jobs.FireWebhookPayload{
			ScheduleID: sched.ID,
			SkillID:    sched.SkillID,
			Collection: sched.Collection,
			WebhookURL: sched.WebhookURL,
		})
		if err != nil {
			return enqueued, err
		}

		key := fmt.Sprintf("%s:%s:%d", jobs.KindFireWebhook, sched.ID, fireAt.Unix())
		if _, err := s.jobs.EnqueueJob(ctx, nil, jobs.KindFireWebhook, payload, fireAt, key); err != nil {
			s.log.Error("failed to enqueue schedule firing",
				"schedule_id", sched.ID, "error", err)
			continue
		}
		enqueued++
	}

	return enqueued, nil
}

// nextFire computes the earliest firing after the schedule's last run (or
// its creation, for schedules that never ran) and whether it is due.
func nextFire(sched *store.Schedule, now time.Time) (time.Time, bool, error) {
	spec, err := cron.ParseStandard(sched.CronExpression)
	if err != nil {
		return time.Time{}, false, err
	}

	base := sched.CreatedAt
	if sched.LastRunAt != nil {
		base = *sched.LastRunAt
	}

	next := spec.Next(base)
	return next, !next.After(now), nil
}
