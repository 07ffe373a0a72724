// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package ring

import (
	"testing"
	"time"
)

func mustPayload(ts int64, v int) Sample {
	return Sample{Timestamp: ts, SizeBytes: 40, Payload: v}
}

// TestCapacityEviction exercises scenario S1 from the engine's testable
// properties: capacity 3, four pushes, one eviction.
func TestCapacityEviction(t *testing.T) {
	b := New(3, 0, nil)

	b.Push(mustPayload(1000, 1))
	b.Push(mustPayload(2000, 2))
	b.Push(mustPayload(3000, 3))
	b.Push(mustPayload(4000, 4))

	if got := b.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}

	latest := b.GetLatest(3)
	wantTS := []int64{2000, 3000, 4000}
	for i, s := range latest {
		if s.Timestamp != wantTS[i] {
			t.Fatalf("latest[%d].Timestamp = %d, want %d", i, s.Timestamp, wantTS[i])
		}
	}

	stats := b.Stats()
	if stats.TotalEvicted != 1 {
		t.Fatalf("TotalEvicted = %d, want 1", stats.TotalEvicted)
	}
	if stats.TotalWritten != 4 {
		t.Fatalf("TotalWritten = %d, want 4", stats.TotalWritten)
	}
}

// TestPushOnNonFullBuffer covers invariant 1: push on a non-full ring
// increases len, total_written, and memory_usage by size_bytes.
func TestPushOnNonFullBuffer(t *testing.T) {
	b := New(10, 0, nil)
	s := mustPayload(1000, 42)

	b.Push(s)

	stats := b.Stats()
	if stats.Size != 1 {
		t.Fatalf("Size = %d, want 1", stats.Size)
	}
	if stats.TotalWritten != 1 {
		t.Fatalf("TotalWritten = %d, want 1", stats.TotalWritten)
	}
	if stats.MemoryBytes != s.SizeBytes {
		t.Fatalf("MemoryBytes = %d, want %d", stats.MemoryBytes, s.SizeBytes)
	}
}

// TestPushOnFullBuffer covers invariant 2: push on a full ring leaves len
// unchanged, increases total_evicted, and adjusts memory_usage by the
// delta between the new and evicted sample sizes.
func TestPushOnFullBuffer(t *testing.T) {
	b := New(2, 0, nil)
	b.Push(mustPayload(1000, 1))
	front := mustPayload(2000, 2)
	b.Push(front)

	before := b.Stats()

	incoming := mustPayload(3000, 3)
	b.Push(incoming)

	after := b.Stats()
	if after.Size != before.Size {
		t.Fatalf("Size changed: before=%d after=%d", before.Size, after.Size)
	}
	if after.TotalEvicted != before.TotalEvicted+1 {
		t.Fatalf("TotalEvicted = %d, want %d", after.TotalEvicted, before.TotalEvicted+1)
	}
	wantMemory := before.MemoryBytes + incoming.SizeBytes - mustPayload(1000, 1).SizeBytes
	if after.MemoryBytes != wantMemory {
		t.Fatalf("MemoryBytes = %d, want %d", after.MemoryBytes, wantMemory)
	}
}

func TestTTLEviction(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 10_000))
	b := New(10, 5*time.Second, clock)

	b.Push(mustPayload(1000, 1)) // will expire
	clock.advance(6 * time.Second)
	b.Push(mustPayload(2000, 2))

	if got := b.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1 (expired sample should be evicted)", got)
	}
	if stats := b.Stats(); stats.TotalEvicted != 1 {
		t.Fatalf("TotalEvicted = %d, want 1", stats.TotalEvicted)
	}
}

func TestGetRangeIsInsertionOrdered(t *testing.T) {
	b := New(10, 0, nil)
	b.Push(mustPayload(3000, 3))
	b.Push(mustPayload(1000, 1))
	b.Push(mustPayload(2000, 2))

	got := b.GetRange(1000, 3000)
	if len(got) != 3 {
		t.Fatalf("len(GetRange) = %d, want 3", len(got))
	}
	wantTS := []int64{3000, 1000, 2000}
	for i, s := range got {
		if s.Timestamp != wantTS[i] {
			t.Fatalf("GetRange[%d].Timestamp = %d, want %d (insertion order)", i, s.Timestamp, wantTS[i])
		}
	}
}

// fakeClock is a minimal test double; the root package's FakeClock is not
// imported here to keep this package dependency-free.
type fakeClock struct{ now time.Time }

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }
func (c *fakeClock) Now() time.Time       { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }
