// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

package capisync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// LinkQuality is a coarse classification of the current link. It does not
// affect correctness, only prioritization and backoff tuning.
type LinkQuality string

const (
	QualityPoor     LinkQuality = "poor"
	QualityModerate LinkQuality = "moderate"
	QualityGood     LinkQuality = "good"
	QualityUnknown  LinkQuality = "unknown"
	QualityOffline  LinkQuality = "offline"
)

// ClassifyLink maps a platform-reported link type onto a quality bucket.
// Pure function; the empty string and unrecognized types are "unknown".
func ClassifyLink(linkType string) LinkQuality {
	switch strings.ToLower(linkType) {
	case "wifi", "ethernet":
		return QualityGood
	case "4g", "5g", "lte":
		return QualityModerate
	case "2g", "3g", "edge", "gprs":
		return QualityPoor
	default:
		return QualityUnknown
	}
}

// Monitor owns the process-wide connectivity state as an observable value
// with an explicit subscribe/unsubscribe lifecycle. State is fed from
// platform connectivity events (SetLinkType/SetOffline) and from an optional
// active probe against the server health endpoint.
type Monitor struct {
	probeURL string
	http     *http.Client
	logger   *slog.Logger
	now      func() time.Time

	mu           sync.RWMutex
	online       bool
	linkType     string
	offlineSince time.Time
	subs         map[int]chan struct{}
	nextSubID    int
}

// MonitorOption customizes a Monitor.
type MonitorOption func(*Monitor)

// WithProbeClient overrides the HTTP client used by CheckConnection.
func WithProbeClient(c *http.Client) MonitorOption {
	return func(m *Monitor) { m.http = c }
}

// WithMonitorLogger overrides the monitor logger.
func WithMonitorLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// withClock injects a clock for tests.
func withClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a connectivity monitor. The device starts offline until
// a platform event or a successful probe says otherwise. probeURL points at
// the server health endpoint, e.g. "https://host/api/health".
func NewMonitor(probeURL string, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probeURL: probeURL,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
		now:      time.Now,
		subs:     make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.offlineSince = m.now()
	return m
}

// Online reports the current connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Quality classifies the current link.
func (m *Monitor) Quality() LinkQuality {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.online {
		return QualityOffline
	}
	return ClassifyLink(m.linkType)
}

// DowntimeDuration reports elapsed time since the last observed offline
// transition, 0 while online.
func (m *Monitor) DowntimeDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.online {
		return 0
	}
	return m.now().Sub(m.offlineSince)
}

// SetLinkType records a platform connectivity event reporting a viable link.
// An offline-to-online transition notifies subscribers immediately.
func (m *Monitor) SetLinkType(linkType string) {
	m.mu.Lock()
	wasOffline := !m.online
	m.online = true
	m.linkType = linkType
	m.mu.Unlock()

	if wasOffline {
		m.logger.Info("connectivity restored", "link_type", linkType)
		m.notify()
	}
}

// SetOffline records a platform event reporting loss of connectivity.
func (m *Monitor) SetOffline() {
	m.mu.Lock()
	if m.online {
		m.online = false
		m.linkType = ""
		m.offlineSince = m.now()
		m.logger.Info("connectivity lost")
	}
	m.mu.Unlock()
}

// Subscribe registers for offline-to-online notifications. The returned
// channel receives one value per transition (coalesced if the subscriber is
// slow). The cancel func must be called to release the subscription.
func (m *Monitor) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = ch
	m.mu.Unlock()

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	return ch, cancel
}

// notify wakes subscribers without blocking on slow ones.
func (m *Monitor) notify() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// CheckConnection performs an active probe against the health endpoint and
// updates the connectivity state from the result. Any 2xx response counts as
// reachable. Used when the platform's own signal is unavailable or untrusted.
func (m *Monitor) CheckConnection(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		m.SetOffline()
		return false, fmt.Errorf("health probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.SetOffline()
		return false, nil
	}

	m.mu.RLock()
	linkType := m.linkType
	m.mu.RUnlock()
	m.SetLinkType(linkType)
	return true, nil
}
