// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package walog

import (
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesHeaderAndEmptyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if got := l.TotalPoints(); got != 0 {
		t.Fatalf("TotalPoints = %d, want 0", got)
	}
	if got := l.WriteOffset(); got != headerSize {
		t.Fatalf("WriteOffset = %d, want %d", got, headerSize)
	}
	if got := l.CreatedAt(); got != 1000 {
		t.Fatalf("CreatedAt = %d, want 1000", got)
	}
}

func TestOpenRecordsCompressionSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), true, 7)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	if !l.CompressionEnabled() {
		t.Fatal("CompressionEnabled = false, want true")
	}
	if got := l.CompressionLevel(); got != 7 {
		t.Fatalf("CompressionLevel = %d, want 7", got)
	}
}

func TestReopenPreservesCompressionSettingsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), true, 9)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, time.Unix(0, 2000), false, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if !reopened.CompressionEnabled() || reopened.CompressionLevel() != 9 {
		t.Fatalf("reopen should keep on-disk settings, got enabled=%v level=%d",
			reopened.CompressionEnabled(), reopened.CompressionLevel())
	}
}

func TestAppendAndScanRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	payload1 := []byte("first block payload")
	payload2 := []byte("second block payload, a bit longer than the first")

	if err := l.Append(1000, 3, payload1, false, uint32(len(payload1)), 100, 300); err != nil {
		t.Fatalf("Append 1: %v", err)
	}
	if err := l.Append(2000, 5, payload2, false, uint32(len(payload2)), 400, 900); err != nil {
		t.Fatalf("Append 2: %v", err)
	}

	if got := l.TotalPoints(); got != 8 {
		t.Fatalf("TotalPoints = %d, want 8", got)
	}
	if got := l.FirstTimestamp(); got != 100 {
		t.Fatalf("FirstTimestamp = %d, want 100", got)
	}
	if got := l.LastTimestamp(); got != 900 {
		t.Fatalf("LastTimestamp = %d, want 900", got)
	}
	if got := l.ModifiedAt(); got != 2000 {
		t.Fatalf("ModifiedAt = %d, want 2000", got)
	}

	blocks, err := l.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(blocks) != 2 {
		t.Fatalf("len(blocks) = %d, want 2", len(blocks))
	}
	if string(blocks[0].Payload) != string(payload1) {
		t.Fatalf("blocks[0].Payload = %q, want %q", blocks[0].Payload, payload1)
	}
	if string(blocks[1].Payload) != string(payload2) {
		t.Fatalf("blocks[1].Payload = %q, want %q", blocks[1].Payload, payload2)
	}
	if blocks[0].PointCount != 3 || blocks[1].PointCount != 5 {
		t.Fatalf("point counts = %d, %d, want 3, 5", blocks[0].PointCount, blocks[1].PointCount)
	}
}

func TestReopenRecoversWriteOffsetByScanning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	payload := []byte("durable payload surviving a reopen")
	if err := l.Append(1000, 2, payload, false, uint32(len(payload)), 50, 60); err != nil {
		t.Fatalf("Append: %v", err)
	}
	wantOffset := l.WriteOffset()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, time.Unix(0, 2000), false, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if got := reopened.WriteOffset(); got != wantOffset {
		t.Fatalf("reopened WriteOffset = %d, want %d (scanned, not trusted from a stale header field)", got, wantOffset)
	}
	blocks, err := reopened.Scan()
	if err != nil {
		t.Fatalf("Scan after reopen: %v", err)
	}
	if len(blocks) != 1 || string(blocks[0].Payload) != string(payload) {
		t.Fatalf("reopened blocks = %+v, want one block with payload %q", blocks, payload)
	}
	if got := reopened.FirstTimestamp(); got != 50 {
		t.Fatalf("reopened FirstTimestamp = %d, want 50 (persisted across reopen)", got)
	}
}

func TestAppendGrowsFileWhenExceedingInitialSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	big := make([]byte, initialFileSize)
	for i := range big {
		big[i] = byte(i)
	}
	if err := l.Append(1000, 1, big, false, uint32(len(big)), 1, 1); err != nil {
		t.Fatalf("Append large block: %v", err)
	}

	blocks, err := l.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(blocks) != 1 || len(blocks[0].Payload) != len(big) {
		t.Fatalf("large block not preserved after growth")
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.bin")
	l, err := Open(path, time.Unix(0, 1000), false, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	l.data[offMagic] ^= 0xFF
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Open(path, time.Unix(0, 2000), false, 0); err == nil {
		t.Fatal("expected error reopening a log with corrupted magic")
	}
}
