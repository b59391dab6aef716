// Command scheduler runs the Scheduler (C12): it ticks each registered
// source connector on its configured cadence and runs a nightly backup job.
// Connectors are registered here as the operator's deployment dictates;
// none ship with this binary since each is an external black-box collaborator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"pkb/internal/config"
	"pkb/internal/observability"
	"pkb/internal/scheduler"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	observability.InitLogger("scheduler.log", "info")

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	backup := func(ctx context.Context) error {
		// Real deployments wire this to a pg_dump + object-store upload of the
		// graph and vector state. Left as a log-only stub here since backup
		// storage targets are operator-specific.
		log.Info().Msg("backup stub ran; wire a real backup target before relying on this in production")
		return nil
	}

	sched := scheduler.New(cfg.Scheduler.DefaultInterval.Duration, scheduler.DefaultCadence(), cfg.Scheduler.BackupCron, backup)

	// Connectors (mail, photos, bulk archive, etc.) are registered here by
	// whatever binary embeds real connector implementations; this daemon
	// only owns cadence and the max_instances=1 guarantee.
	if err := sched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	log.Info().Msg("scheduler started")
	<-ctx.Done()
	sched.Stop()
	log.Info().Msg("scheduler shut down")
}
