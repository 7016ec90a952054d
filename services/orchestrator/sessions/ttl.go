// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Clock abstracts time for the store and the TTL janitor so expiry can be
// tested without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// TTLFromEnv reads SESSION_TTL as a Go duration (e.g. "24h"). Zero means
// TTL eviction is disabled, which is the default: sessions are small and
// bounded, so expiry is an operator opt-in rather than a correctness need.
func TTLFromEnv() time.Duration {
	raw := os.Getenv("SESSION_TTL")
	if raw == "" {
		return 0
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil || ttl <= 0 {
		slog.Warn("SESSION_TTL is invalid, TTL eviction disabled", "value", raw)
		return 0
	}
	return ttl
}

// Janitor periodically evicts sessions whose last activity is older than
// the configured TTL.
type Janitor struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	clock    Clock
}

// NewJanitor creates a janitor sweeping every interval. A non-positive
// interval defaults to one tenth of the TTL, floored at one minute.
func NewJanitor(store Store, ttl, interval time.Duration, clock Clock) *Janitor {
	if clock == nil {
		clock = systemClock{}
	}
	if interval <= 0 {
		interval = ttl / 10
		if interval < time.Minute {
			interval = time.Minute
		}
	}
	return &Janitor{store: store, ttl: ttl, interval: interval, clock: clock}
}

// Start runs the sweep loop until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	slog.Info("Session TTL janitor started", "ttl", j.ttl, "interval", j.interval)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Session TTL janitor stopped")
			return
		case <-ticker.C:
			evicted, err := j.Sweep(ctx)
			if err != nil {
				slog.Error("Session TTL sweep failed", "error", err)
			} else if evicted > 0 {
				slog.Info("Session TTL sweep evicted sessions", "count", evicted)
			}
		}
	}
}

// Sweep deletes every session idle past the TTL and returns how many went.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	ids, err := j.store.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := j.clock.Now().Add(-j.ttl).UnixMilli()
	evicted := 0
	for _, id := range ids {
		sess, found, err := j.store.Get(ctx, id)
		if err != nil {
			return evicted, err
		}
		if !found || sess.LastActiveAt >= cutoff {
			continue
		}
		if err := j.store.Delete(ctx, id); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}
