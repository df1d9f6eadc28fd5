package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nixfleet-labs/homebase-gateway/internal/broadcast"
	"github.com/nixfleet-labs/homebase-gateway/internal/browser"
	"github.com/nixfleet-labs/homebase-gateway/internal/config"
	"github.com/nixfleet-labs/homebase-gateway/internal/gatewayserver"
	"github.com/nixfleet-labs/homebase-gateway/internal/logging"
	"github.com/nixfleet-labs/homebase-gateway/internal/notify"
	"github.com/nixfleet-labs/homebase-gateway/internal/probe"
	"github.com/nixfleet-labs/homebase-gateway/internal/registry"
	"github.com/nixfleet-labs/homebase-gateway/internal/status"
	"github.com/nixfleet-labs/homebase-gateway/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the registry, prober, notification listener, broadcaster and browser server",
	RunE:  runGateway,
}

func runGateway(cmd *cobra.Command, args []string) error {
	log := logging.New("gateway")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("GATEWAY_DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	cache := status.New(log, db)
	broadcaster := broadcast.New(log)
	go broadcaster.Run(ctx.Done())

	cache.OnChange(func(e status.Entry) {
		broadcaster.PublishEvent("status_changes", e)
	})
	cache.OnCommStatusChange(func(e status.CommStatusEntry) {
		broadcaster.PublishEvent("comm_status_changes", e)
	})
	cache.OnPerfStatsChange(func(e status.PerfStatsEntry) {
		broadcaster.PublishEvent("perf_stats_changes", e)
	})

	reg := registry.New(ctx, cfg, log, db, cache, broadcaster)
	if err := reg.LoadInitial(); err != nil {
		log.Error().Err(err).Msg("failed to load initial device set")
	}

	prober := probe.New(cfg, log, db, reg)
	go prober.Run(ctx)

	listener := notify.New(cfg.DatabaseURL, log, cache, db)
	go listener.Run(ctx)

	handler := browser.New(log, cache, broadcaster, reg, db)
	srv := gatewayserver.New(log, fmt.Sprintf(":%d", cfg.BrowserPort), handler)

	go func() {
		<-ctx.Done()
		reg.StopAll()
		_ = srv.Shutdown(context.Background())
	}()

	return srv.Run()
}
