// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

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

	"github.com/preventioid-id/mysmartcapi/capisync"
	"github.com/preventioid-id/mysmartcapi/internal/config"
	"github.com/preventioid-id/mysmartcapi/internal/logging"
)

var probeInterval time.Duration

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the on-device background sync agent",
	Long: `Run the long-lived device agent: it watches connectivity via periodic
health probes, registers the sync orchestrator to fire whenever the
device comes back online, and retries failed attempts with capped
exponential backoff within each offline episode.

Outbound requests go through the caching request router, so previously
fetched assets and API reads stay available while offline.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

func init() {
	agentCmd.Flags().DurationVar(&probeInterval, "probe-interval", 30*time.Second,
		"how often to probe the server health endpoint")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(ctx context.Context) error {
	cfg := config.Load()
	logger := logging.New(cfg.LogFile, slog.LevelInfo)
	slog.SetDefault(logger)

	store, err := capisync.OpenStore(cfg.StorePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	// The response cache shares the store's SQLite database; activating a new
	// generation drops entries cached under previous versions.
	cache, err := capisync.OpenCache(store.DB(), cfg.CacheGeneration)
	if err != nil {
		return fmt.Errorf("failed to open response cache: %w", err)
	}
	if err := cache.Activate(ctx); err != nil {
		return fmt.Errorf("failed to activate cache generation: %w", err)
	}

	router := capisync.NewRouter(http.DefaultTransport, cache, capisync.RouterConfig{}, logger)
	httpClient := &http.Client{Transport: router, Timeout: 120 * time.Second}

	probeURL := cfg.ServerBaseURL + "/api/health"
	monitor := capisync.NewMonitor(probeURL, capisync.WithMonitorLogger(logger))

	orch := capisync.NewOrchestrator(store, cfg.ServerBaseURL, deviceToken(cfg),
		capisync.WithHTTPClient(httpClient),
		capisync.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scheduler := capisync.NewMonitorScheduler(monitor, capisync.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BackoffMin:  cfg.BackoffMin,
		BackoffMax:  cfg.BackoffMax,
	}, logger)
	registrar := capisync.NewRegistrar(scheduler, logger)
	registrar.Register(ctx, "record-sync", orch.AttemptSync)

	logger.Info("agent started",
		"server", cfg.ServerBaseURL,
		"store", cfg.StorePath,
		"cache_generation", cfg.CacheGeneration,
		"probe_interval", probeInterval)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	// Probe immediately so a device started with connectivity syncs right away.
	if online, err := monitor.CheckConnection(ctx); err != nil {
		logger.Info("server unreachable, waiting for connectivity", "error", err)
	} else if online {
		logger.Info("server reachable", "quality", monitor.Quality())
	}

	for {
		select {
		case sig := <-stop:
			logger.Info("agent stopping", "signal", sig.String())
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			// Monitor logs the offline/online transitions itself.
			if _, err := monitor.CheckConnection(ctx); err != nil {
				logger.Debug("health probe failed", "error", err)
			}
		}
	}
}
