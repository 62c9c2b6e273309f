// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/preventioid-id/mysmartcapi/capiserver"
	"github.com/preventioid-id/mysmartcapi/internal/config"
	"github.com/preventioid-id/mysmartcapi/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the central sync server",
	Long: `Start the HTTP server that receives batched record uploads from field
devices on /api/sync, answers connectivity probes on /api/health and
exposes Prometheus metrics on /metrics.

With SMARTCAPI_DATABASE_URL set, records persist to Postgres; without it
an in-memory store is used (local development only).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfg := config.Load()
	logger := logging.New(cfg.LogFile, slog.LevelInfo)
	slog.SetDefault(logger)

	var store capiserver.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		pgStore, err := capiserver.NewPGStore(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to initialize record store: %w", err)
		}
		store = pgStore
		logger.Info("using postgres record store")
	} else {
		store = capiserver.NewMemStore()
		logger.Warn("no database configured, records are held in memory only")
	}

	service := capiserver.NewSyncService(store, logger)
	handlers := capiserver.NewHandlers(service, capiserver.NewJWTAuth(cfg.JWTSecret), logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddress,
		Handler:      handlers.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sync server listening", "address", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
