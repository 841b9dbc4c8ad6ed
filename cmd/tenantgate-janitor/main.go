package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

var (
	schedule = flag.String("schedule", "", "Cron schedule for expired invitation cleanup (defaults to orgs.janitor_schedule)")
	runOnce  = flag.Bool("run-once", false, "Run the cleanup once and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "tenantgate-janitor")

	ctx := context.Background()
	db, err := postgres.Connect(ctx, cfg.Storage)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	service := orgs.NewPostgresService(db, orgs.WithInviteTTL(cfg.Orgs.InviteTTL))

	if *runOnce {
		if err := cleanup(ctx, service, logger); err != nil {
			os.Exit(1)
		}
		return
	}

	spec := *schedule
	if spec == "" {
		spec = cfg.Orgs.JanitorSchedule
	}

	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		defer observability.RecoverPanic(logger, "invite-cleanup")

		jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		cleanup(jobCtx, service, logger)
	})
	if err != nil {
		logger.WithError(err).WithField("schedule", spec).Error("Failed to schedule invitation cleanup")
		os.Exit(1)
	}

	c.Start()
	logger.WithField("schedule", spec).Info("Janitor started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down gracefully...")

	stopped := c.Stop()
	<-stopped.Done()
	logger.Info("Janitor stopped")
}

func cleanup(ctx context.Context, service orgs.Service, logger *observability.Logger) error {
	removed, err := service.CleanupExpiredInvitations(ctx)
	if err != nil {
		logger.WithError(err).Error("Invitation cleanup failed")
		return err
	}
	logger.WithField("removed", removed).Info("Expired invitations removed")
	return nil
}
