// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package netstate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Prober checks whether the backend is reachable
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// HTTPProbe GETs URL and treats any 2xx answer as reachable
type HTTPProbe struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration // per probe; 0 means 5s
}

// Probe implements Prober
func (p *HTTPProbe) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}
	return nil
}

// WatchConfig controls the probe cadence of Watch
type WatchConfig struct {
	Interval   time.Duration // between probes while online
	BackoffMin time.Duration // first retry delay while offline
	BackoffMax time.Duration // retry delay cap while offline
}

// DefaultWatchConfig returns the default probe cadence
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Interval:   15 * time.Second,
		BackoffMin: 1 * time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// Watch probes until ctx is done, feeding each result into m.Signal. While the
// probe fails the delay grows exponentially from BackoffMin to BackoffMax.
// It returns ctx.Err().
func Watch(ctx context.Context, m *Monitor, p Prober, cfg WatchConfig) error {
	def := DefaultWatchConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}

	backoff := cfg.BackoffMin
	for {
		err := p.Probe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var wait time.Duration
		if err != nil {
			if m.IsOnline() {
				m.logger.Warn("Backend unreachable", "error", err)
			}
			m.Signal(false)
			wait = backoff
			backoff *= 2
			if backoff > cfg.BackoffMax {
				backoff = cfg.BackoffMax
			}
		} else {
			m.Signal(true)
			backoff = cfg.BackoffMin
			wait = cfg.Interval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
