// Package main is the entry point for the openclaw job worker. It runs the
// job processor poll loop, the cron scheduler, and the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/troykelly/openclaw-projects/internal/config"
	"github.com/troykelly/openclaw-projects/internal/jobs"
	"github.com/troykelly/openclaw-projects/internal/logger"
	"github.com/troykelly/openclaw-projects/internal/messaging"
	"github.com/troykelly/openclaw-projects/internal/observability"
	"github.com/troykelly/openclaw-projects/internal/scheduler"
	"github.com/troykelly/openclaw-projects/internal/store/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Runs the openclaw job queue worker",
	Long: `worker claims due jobs from the database queue and dispatches them to
registered kind handlers (webhook firing, outbound sends, embedding
generation). Multiple workers may run against the same database; the claim
protocol guarantees each job is handed to exactly one of them.

Configuration comes from the environment (DATABASE_URL is required); the
flags below override their OPENCLAW_* equivalents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().Int("batch-size", 10, "jobs claimed per processor pass")
	rootCmd.Flags().Duration("poll-interval", time.Second, "delay between processor passes")
	rootCmd.Flags().Duration("schedule-interval", 30*time.Second, "delay between scheduler passes")
	rootCmd.Flags().Int("metrics-port", 6162, "port for the /metrics endpoint")

	viper.SetEnvPrefix("OPENCLAW")
	viper.AutomaticEnv()
	viper.BindPFlag("batch_size", rootCmd.Flags().Lookup("batch-size"))
	viper.BindPFlag("poll_interval", rootCmd.Flags().Lookup("poll-interval"))
	viper.BindPFlag("schedule_interval", rootCmd.Flags().Lookup("schedule-interval"))
	viper.BindPFlag("metrics_port", rootCmd.Flags().Lookup("metrics-port"))
}

func run(ctx context.Context) error {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.BatchSize = viper.GetInt("batch_size")
	cfg.PollInterval = viper.GetDuration("poll_interval")
	cfg.ScheduleInterval = viper.GetDuration("schedule_interval")
	cfg.MetricsPort = viper.GetInt("metrics_port")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.OTELEndpoint != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "openclaw-worker", cfg.OTELEndpoint)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Error("failed to shutdown metrics", "error", err)
		}
	}()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(db.DB()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	registry := jobs.NewRegistry()
	registry.Register(jobs.KindFireWebhook,
		jobs.NewScheduleFireHandler(db, db, log).Execute)
	registry.Register(jobs.KindSend,
		messaging.NewSendHandler(db, messaging.NewHTTPProvider(messaging.HTTPProviderConfig{
			AccountSID: cfg.ProviderAccountSID,
			AuthToken:  cfg.ProviderAuthToken,
			From:       cfg.ProviderFrom,
			BaseURL:    cfg.ProviderBaseURL,
		}), log).Execute)
	registry.Register(jobs.KindGenerateEmbedding,
		jobs.NewEmbeddingHandler(jobs.NewHTTPEmbedder(cfg.EmbedderURL), db, cfg.EmbedderModel).Execute)

	processor := jobs.NewProcessor(db, registry, log)
	log.Info("worker starting",
		"worker_id", processor.WorkerID(),
		"batch_size", cfg.BatchSize,
		"kinds", registry.Kinds())

	go scheduler.New(db, db, log).Run(ctx, cfg.ScheduleInterval)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		log.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		pollLoop(ctx, processor, cfg, log)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutting down worker")
		cancel()
	case <-ctx.Done():
	}

	<-done
	return nil
}

// pollLoop drives the processor. The poll delay doubles while the queue is
// empty, up to maxBackoff, and resets as soon as work appears.
func pollLoop(ctx context.Context, processor *jobs.Processor, cfg *config.Config, log *slog.Logger) {
	const maxBackoff = 30 * time.Second
	delay := cfg.PollInterval

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		stats, err := processor.ProcessJobs(ctx, cfg.BatchSize)
		if err != nil {
			log.Error("processor pass failed", "error", err)
			delay = cfg.PollInterval
			continue
		}

		if stats.Processed == 0 {
			delay *= 2
			if delay > maxBackoff {
				delay = maxBackoff
			}
		} else {
			delay = cfg.PollInterval
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
