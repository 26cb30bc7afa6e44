package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/troykelly/openclaw-projects/internal/logger"
	"github.com/troykelly/openclaw-projects/internal/store"
)

// Retry policy for infrastructure failures.
const (
	MaxAttempts = 5
	baseBackoff = 10 * time.Second
)

// Stats aggregates one ProcessJobs pass. Processed counts every claimed job;
// Failed counts the subset whose outcome was a failure, thrown or domain.
type Stats struct {
	Processed int
	Failed    int
}

// Processor claims due jobs in batches and dispatches them to registered
// handlers. It owns no background loop: callers invoke ProcessJobs on a
// timer, and horizontal scaling is achieved by running more workers, each
// claiming batches independently.
type Processor struct {
	jobs     store.JobStore
	registry *Registry
	log      *slog.Logger
	workerID string

	tracer         trace.Tracer
	processedCount metric.Int64Counter
	failedCount    metric.Int64Counter
}

// NewProcessor creates a processor identified by hostname plus a random
// suffix, so claim markers are attributable in the jobs table.
func NewProcessor(jobStore store.JobStore, registry *Registry, log *slog.Logger) *Processor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "worker"
	}

	meter := otel.Meter("openclaw.jobs")
	processed, _ := meter.Int64Counter("jobs_processed_total",
		metric.WithDescription("Jobs claimed and dispatched"))
	failed, _ := meter.Int64Counter("jobs_failed_total",
		metric.WithDescription("Jobs whose outcome was a failure"))

	return &Processor{
		jobs:           jobStore,
		registry:       registry,
		log:            log,
		workerID:       fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		tracer:         otel.Tracer("openclaw.jobs"),
		processedCount: processed,
		failedCount:    failed,
	}
}

// WorkerID returns the claim marker this processor stamps on jobs.
func (p *Processor) WorkerID() string {
	return p.workerID
}

// ProcessJobs claims up to batchSize due jobs and runs each one. Jobs in a
// batch run sequentially; a single job's failure never propagates to the
// caller. Only a claim-level outage returns a non-nil error.
func (p *Processor) ProcessJobs(ctx context.Context, batchSize int) (Stats, error) {
	claimed, err := p.jobs.ClaimBatch(ctx, p.workerID, batchSize)
	if err != nil {
		return Stats{}, fmt.Errorf("claim batch: %w", err)
	}

	var stats Stats
	for i := range claimed {
		job := &claimed[i]
		stats.Processed++
		if failed := p.runJob(ctx, job); failed {
			stats.Failed++
		}
	}
	return stats, nil
}

// runJob dispatches one claimed job and records its outcome. Reports whether
// the outcome was a failure.
func (p *Processor) runJob(ctx context.Context, job *store.Job) bool {
	ctx = logger.WithJobID(ctx, job.ID.String())
	log := logger.FromContext(ctx, p.log).With("kind", job.Kind, "attempt", job.Attempts+1)

	ctx, span := p.tracer.Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("job.id", job.ID.String()),
			attribute.String("job.kind", job.Kind),
		))
	defer span.End()

	handler, ok := p.registry.Handler(job.Kind)
	if !ok {
		// Unknown kinds follow the failure path so they are counted and
		// retried, never silently dropped.
		p.recordInfraFailure(ctx, job, fmt.Errorf("no handler registered for kind %q", job.Kind), log)
		p.count(ctx, job.Kind, "failed")
		return true
	}

	result, err := handler(ctx, job.Payload)
	switch {
	case err != nil:
		// Infrastructure failure: retry later unless the budget is spent.
		p.recordInfraFailure(ctx, job, err, log)
		p.count(ctx, job.Kind, "failed")
		return true

	case !result.Success:
		// Domain failure: the handler has already compensated; terminal.
		if err := p.jobs.MarkJobCompleted(ctx, job.ID, result.Error); err != nil {
			log.Error("failed to complete job", "error", err)
		}
		log.Warn("job completed with domain failure", "reason", result.Error)
		p.count(ctx, job.Kind, "domain_failed")
		return true

	default:
		if err := p.jobs.MarkJobCompleted(ctx, job.ID, ""); err != nil {
			log.Error("failed to complete job", "error", err)
		}
		log.Info("job completed")
		p.count(ctx, job.Kind, "ok")
		return false
	}
}

func (p *Processor) recordInfraFailure(ctx context.Context, job *store.Job, cause error, log *slog.Logger) {
	attempts := job.Attempts + 1
	if attempts >= MaxAttempts {
		if err := p.jobs.FinalizeJobFailure(ctx, job.ID, cause.Error()); err != nil {
			log.Error("failed to finalize job", "error", err)
		}
		log.Error("job failed permanently", "error", cause, "attempts", attempts)
		return
	}

	nextRunAt := time.Now().Add(Backoff(attempts))
	if err := p.jobs.ReleaseJobForRetry(ctx, job.ID, cause.Error(), nextRunAt); err != nil {
		log.Error("failed to release job for retry", "error", err)
	}
	log.Warn("job failed, will retry", "error", cause, "next_run_at", nextRunAt)
}

// Backoff returns the delay before the given retry attempt (10s * 2^attempt).
func Backoff(attempt int) time.Duration {
	return baseBackoff * time.Duration(1<<attempt)
}

func (p *Processor) count(ctx context.Context, kind, outcome string) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	p.processedCount.Add(ctx, 1, attrs)
	if outcome != "ok" {
		p.failedCount.Add(ctx, 1, attrs)
	}
}
