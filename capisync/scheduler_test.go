// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testRetryConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		BackoffMin:  time.Millisecond,
		BackoffMax:  4 * time.Millisecond,
	}
}

// Given a transport that always fails, scheduled retries within one offline
// episode do not exceed the configured maximum.
func TestRunWithRetryCap(t *testing.T) {
	attempts := 0
	task := func(ctx context.Context) error {
		attempts++
		return errors.New("still offline")
	}

	err := runWithRetry(context.Background(), slog.Default(), testRetryConfig(5), "transcript-sync", task)
	if err == nil {
		t.Fatal("expected final error after exhausting attempts")
	}
	if attempts != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", attempts)
	}
}

func TestRunWithRetryStopsOnSuccess(t *testing.T) {
	attempts := 0
	task := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	}
	if err := runWithRetry(context.Background(), slog.Default(), testRetryConfig(10), "voice-sync", task); err != nil {
		t.Fatalf("run with retry: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

// A concurrent attempt already holding the guard means the work is happening;
// the scheduler must not keep retrying on top of it.
func TestRunWithRetryTreatsInFlightAsSuccess(t *testing.T) {
	attempts := 0
	task := func(ctx context.Context) error {
		attempts++
		return ErrSyncInFlight
	}
	if err := runWithRetry(context.Background(), slog.Default(), testRetryConfig(5), "transcript-sync", task); err != nil {
		t.Fatalf("run with retry: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRunWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	task := func(taskCtx context.Context) error {
		attempts++
		cancel()
		return errors.New("fail")
	}
	cfg := RetryConfig{MaxAttempts: 100, BackoffMin: time.Hour, BackoffMax: time.Hour}
	err := runWithRetry(ctx, slog.Default(), cfg, "transcript-sync", task)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt before cancellation, got %d", attempts)
	}
}

func TestSyncNowSchedulerInvokesImmediately(t *testing.T) {
	ran := false
	s := NewSyncNowScheduler(slog.Default())
	err := s.Register(context.Background(), "transcript-sync", func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !ran {
		t.Fatal("fallback scheduler must invoke synchronously and immediately")
	}
}

func TestMonitorSchedulerRunsOnOnlineTransition(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor("http://device.local/api/health")
	s := NewMonitorScheduler(m, testRetryConfig(3), slog.Default())

	var runs atomic.Int32
	done := make(chan struct{}, 1)
	err := s.Register(ctx, "transcript-sync", func(ctx context.Context) error {
		runs.Add(1)
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	m.SetLinkType("wifi")
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected task to run after connectivity restoration")
	}
	if runs.Load() == 0 {
		t.Fatal("task never ran")
	}
}

// After the cap is reached, scheduling stops until the next explicit trigger
// (the next online transition).
func TestMonitorSchedulerRetryCapPerEpisode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMonitor("http://device.local/api/health")
	s := NewMonitorScheduler(m, testRetryConfig(3), slog.Default())

	var attempts atomic.Int32
	episodeDone := make(chan struct{}, 4)
	err := s.Register(ctx, "transcript-sync", func(ctx context.Context) error {
		n := attempts.Add(1)
		if n%3 == 0 {
			episodeDone <- struct{}{}
		}
		return errors.New("server unreachable")
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	m.SetLinkType("wifi")
	select {
	case <-episodeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first episode never exhausted its attempts")
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts in first episode, got %d", got)
	}

	// Next explicit trigger: a fresh offline episode re-arms the scheduler.
	m.SetOffline()
	m.SetLinkType("wifi")
	select {
	case <-episodeDone:
	case <-time.After(2 * time.Second):
		t.Fatal("second episode never ran")
	}
	if got := attempts.Load(); got != 6 {
		t.Fatalf("expected 6 attempts after two episodes, got %d", got)
	}
}

type refusingScheduler struct{}

func (refusingScheduler) Register(ctx context.Context, name string, task Task) error {
	return errors.New("platform refused registration")
}

// Registration failures are non-fatal: log and continue.
func TestRegistrarSwallowsRegistrationRefusal(t *testing.T) {
	r := NewRegistrar(refusingScheduler{}, slog.Default())
	// Must not panic or propagate; records stay pending for a later trigger.
	r.Register(context.Background(), "voice-sync", func(ctx context.Context) error { return nil })
}
