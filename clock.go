// clock.go: Injectable time source for TTL eviction and log metadata
//
// The donor logging library caches time.Now() behind a single global
// background ticker (timecache.go) because every logger instance shares
// one process-wide notion of "now". strata cannot reuse that shape as-is:
// §9 Open Question 3 requires TTL eviction to be a function of an
// injectable clock so tests can deterministically exercise eviction, and a
// process may run multiple engines concurrently (§9 "no global state")
// each wanting its own fake clock. So the caching trick is dropped in
// favor of a small per-engine Clock interface; see DESIGN.md.
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"sync"
	"time"
)

// Clock supplies the current time to the ring buffer (TTL eviction) and
// the log (created_at/modified_at header fields).
type Clock interface {
	Now() time.Time
}

// RealClock is the default Clock, backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced Clock for deterministic tests of TTL
// eviction and flush timing.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a FakeClock initialized to t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{now: t}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the fake clock to an absolute time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
