// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/preventioid-id/mysmartcapi/capiserver"
	"github.com/preventioid-id/mysmartcapi/capisync"
	"github.com/preventioid-id/mysmartcapi/internal/config"
	"github.com/preventioid-id/mysmartcapi/internal/logging"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one explicit sync attempt",
	Long: `Upload all pending records from the local store to the central server
in a single batch and apply the per-record outcomes. Records the server
could not apply are marked as conflicts and left for manual resolution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSyncOnce(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSyncOnce(ctx context.Context) error {
	cfg := config.Load()
	logger := logging.New(cfg.LogFile, slog.LevelInfo)
	slog.SetDefault(logger)

	store, err := capisync.OpenStore(cfg.StorePath, logger)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	orch := capisync.NewOrchestrator(store, cfg.ServerBaseURL, deviceToken(cfg),
		capisync.WithLogger(logger))
	if err := orch.AttemptSync(ctx); err != nil {
		return fmt.Errorf("sync attempt failed: %w", err)
	}
	return nil
}

// deviceToken mints a bearer token from the shared deployment secret. Returns
// nil (unauthenticated) when no enumerator identity is configured.
func deviceToken(cfg config.Config) capisync.TokenFunc {
	if cfg.EnumeratorID == "" {
		return nil
	}
	auth := capiserver.NewJWTAuth(cfg.JWTSecret)
	return func(ctx context.Context) (string, error) {
		return auth.GenerateToken(cfg.EnumeratorID, cfg.DeviceID, 24*time.Hour)
	}
}
