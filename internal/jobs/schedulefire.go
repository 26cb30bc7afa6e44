package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// OutboxKindWebhook is the kind stamped on outbox entries staged by schedule
// firings.
const OutboxKindWebhook = "webhook"

// FireWebhookPayload is the payload of a fire_webhook job. WebhookURL is a
// copy of the schedule's URL at enqueue time, kept for auditability; the
// handler always resolves the live destination from the schedule row, so a
// stale or tampered payload can never redirect a webhook.
type FireWebhookPayload struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	SkillID    string    `json:"skill_id"`
	Collection *string   `json:"collection,omitempty"`
	WebhookURL string    `json:"webhook_url,omitempty"`
}

// ScheduleFireHandler realizes one recurring schedule firing as a staged
// webhook, with a circuit breaker that disables the schedule after
// max_retries consecutive failed runs.
type ScheduleFireHandler struct {
	schedules store.ScheduleStore
	outbox    store.OutboxStore
	log       *slog.Logger
	now       func() time.Time
}

// NewScheduleFireHandler wires the fire_webhook handler.
func NewScheduleFireHandler(schedules store.ScheduleStore, outbox store.OutboxStore, log *slog.Logger) *ScheduleFireHandler {
	return &ScheduleFireHandler{
		schedules: schedules,
		outbox:    outbox,
		log:       log,
		now:       time.Now,
	}
}

// Execute implements HandlerFunc for the fire_webhook kind.
//
// A missing schedule is an infrastructure failure: there is no schedule row
// to account the failure on, so the breaker is untouched and the job
// retries. Failures after the schedule loads are failed runs: they are
// recorded on the schedule (possibly tripping the breaker) and the job is
// terminal, because each cron tick enqueues a fresh firing.
func (h *ScheduleFireHandler) Execute(ctx context.Context, payload json.RawMessage) (Result, error) {
	var p FireWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Result{}, fmt.Errorf("invalid fire_webhook payload: %w", err)
	}
	if p.ScheduleID == uuid.Nil {
		return Result{}, fmt.Errorf("fire_webhook payload missing schedule_id")
	}

	sched, err := h.schedules.GetSchedule(ctx, p.ScheduleID)
	if err != nil {
		return Result{}, fmt.Errorf("load schedule: %w", err)
	}

	body, err := h.mergeBody(sched)
	if err != nil {
		return h.failRun(ctx, sched, fmt.Errorf("merge payload template: %w", err))
	}

	// Destination and headers come from the live schedule row, never from
	// the job payload.
	entry := &store.OutboxEntry{
		Kind:        OutboxKindWebhook,
		Destination: sched.WebhookURL,
		Headers:     sched.WebhookHeaders,
		Body:        body,
	}
	if err := h.outbox.InsertOutboxEntry(ctx, nil, entry); err != nil {
		return h.failRun(ctx, sched, fmt.Errorf("stage outbox entry: %w", err))
	}

	if err := h.schedules.RecordScheduleSuccess(ctx, sched.ID); err != nil {
		// The webhook is staged; only the bookkeeping is behind. Retrying
		// the job would stage a duplicate, so log and succeed.
		h.log.Error("failed to record schedule success",
			"schedule_id", sched.ID, "error", err)
	}

	return Result{Success: true}, nil
}

// failRun records a failed run on the schedule and reports a terminal domain
// failure. The breaker reads its state from the schedule row, so it is
// correct however stale the triggering job is.
func (h *ScheduleFireHandler) failRun(ctx context.Context, sched *store.Schedule, cause error) (Result, error) {
	updated, err := h.schedules.RecordScheduleFailure(ctx, sched.ID)
	if err != nil {
		// Couldn't account the failure; let the job retry so a run is
		// never lost from the breaker's count.
		return Result{}, fmt.Errorf("record schedule failure (run failed: %v): %w", cause, err)
	}

	if !updated.Enabled {
		h.log.Warn("schedule disabled by circuit breaker",
			"schedule_id", sched.ID,
			"consecutive_failures", updated.ConsecutiveFailures,
			"max_retries", updated.MaxRetries)
	}

	return Result{Success: false, Error: cause.Error()}, nil
}

// mergeBody merges runtime data over the schedule's payload template.
// Reserved runtime keys win on collision; all other template keys, nested
// objects included, pass through unchanged.
func (h *ScheduleFireHandler) mergeBody(sched *store.Schedule) (json.RawMessage, error) {
	merged := map[string]interface{}{}
	if len(sched.PayloadTemplate) > 0 {
		if err := json.Unmarshal(sched.PayloadTemplate, &merged); err != nil {
			return nil, err
		}
	}

	merged["schedule_id"] = sched.ID.String()
	merged["skill_id"] = sched.SkillID
	merged["collection"] = sched.Collection
	merged["triggered_at"] = h.now().UTC().Format(time.RFC3339)

	return json.Marshal(merged)
}
