// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Task is the unit of deferred work a wake scheduler invokes. It must be
// idempotent and cheap to invoke repeatedly: the platform may batch, delay or
// duplicate invocations.
type Task func(ctx context.Context) error

// WakeScheduler is the host-platform capability for deferred execution.
// Exactly one variant is selected at startup: a platform-backed scheduler
// that wakes the task later, or the synchronous fallback that invokes it
// immediately. Correctness must not depend on the deferred variant existing.
type WakeScheduler interface {
	Register(ctx context.Context, name string, task Task) error
}

// RetryConfig bounds retry behavior within one offline episode.
type RetryConfig struct {
	MaxAttempts int           // scheduled attempts per episode before giving up until the next trigger
	BackoffMin  time.Duration // first delay between attempts
	BackoffMax  time.Duration // backoff cap
}

// DefaultRetryConfig mirrors the client sync defaults: 1s..60s doubling
// backoff, five attempts per offline episode.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BackoffMin:  1 * time.Second,
		BackoffMax:  60 * time.Second,
	}
}

// MonitorScheduler is the platform-backed variant: it subscribes to the
// connectivity monitor and runs registered tasks whenever the device comes
// back online, applying capped exponential backoff per episode.
type MonitorScheduler struct {
	monitor *Monitor
	config  RetryConfig
	logger  *slog.Logger
}

// NewMonitorScheduler creates a wake scheduler driven by connectivity
// restoration events.
func NewMonitorScheduler(monitor *Monitor, config RetryConfig, logger *slog.Logger) *MonitorScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitorScheduler{monitor: monitor, config: config, logger: logger}
}

// Register subscribes the named task to online transitions. The task runs in
// its own goroutine until ctx is cancelled; each online transition starts one
// retry episode.
func (s *MonitorScheduler) Register(ctx context.Context, name string, task Task) error {
	wake, cancel := s.monitor.Subscribe()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				if err := runWithRetry(ctx, s.logger, s.config, name, task); err != nil {
					// Retry cap reached: stop until the next explicit trigger.
					s.logger.Warn("deferred task gave up for this episode",
						"task", name, "error", err)
				}
			}
		}
	}()
	s.logger.Info("registered background trigger", "task", name)
	return nil
}

// SyncNowScheduler is the fallback variant for platforms without a deferred
// execution facility: registration invokes the task synchronously and
// immediately, exactly once.
type SyncNowScheduler struct {
	logger *slog.Logger
}

// NewSyncNowScheduler creates the synchronous fallback scheduler.
func NewSyncNowScheduler(logger *slog.Logger) *SyncNowScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncNowScheduler{logger: logger}
}

// Register runs the task immediately in the calling goroutine.
func (s *SyncNowScheduler) Register(ctx context.Context, name string, task Task) error {
	s.logger.Info("no deferred execution facility, running task now", "task", name)
	return task(ctx)
}

// Registrar asks the selected wake scheduler to invoke the sync orchestrator
// on connectivity restoration. Registration failures are non-fatal: records
// stay pending and a later explicit trigger retries them.
type Registrar struct {
	scheduler WakeScheduler
	logger    *slog.Logger
}

// NewRegistrar wraps a wake scheduler with non-fatal registration semantics.
func NewRegistrar(scheduler WakeScheduler, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{scheduler: scheduler, logger: logger}
}

// Register registers the named task, logging and continuing on refusal.
func (r *Registrar) Register(ctx context.Context, name string, task Task) {
	if err := r.scheduler.Register(ctx, name, task); err != nil {
		r.logger.Warn("background trigger registration refused, records stay pending",
			"task", name, "error", err)
	}
}

// runWithRetry invokes the task with capped exponential backoff. ErrSyncInFlight
// counts as success: another trigger source is already doing the work.
func runWithRetry(ctx context.Context, logger *slog.Logger, cfg RetryConfig, name string, task Task) error {
	backoff := cfg.BackoffMin
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := task(ctx)
		if err == nil || errors.Is(err, ErrSyncInFlight) {
			return nil
		}
		lastErr = err
		logger.Warn("task attempt failed",
			"task", name, "attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err)
		if attempt == cfg.MaxAttempts {
			break
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > cfg.BackoffMax {
			backoff = cfg.BackoffMax
		}
	}
	return lastErr
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
