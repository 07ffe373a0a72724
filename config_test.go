// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package strata

import "testing"

func TestConfigWithDefaults(t *testing.T) {
	c := &Config{}
	out := c.withDefaults()
	if out.Capacity != 10_000 {
		t.Fatalf("default Capacity = %d, want 10000", out.Capacity)
	}
	if out.Clock == nil {
		t.Fatal("default Clock should not be nil")
	}
}

func TestConfigWithDefaultsRespectsExplicitValues(t *testing.T) {
	c := &Config{Capacity: 42, EnableCompression: true, CompressionLevel: 7}
	out := c.withDefaults()
	if out.Capacity != 42 {
		t.Fatalf("Capacity = %d, want 42", out.Capacity)
	}
	if out.CompressionLevel != 7 {
		t.Fatalf("CompressionLevel = %d, want 7", out.CompressionLevel)
	}
}

func TestConfigValidateRejectsBadCapacity(t *testing.T) {
	c := &Config{Capacity: 0}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestConfigValidateRejectsBadCompressionLevel(t *testing.T) {
	c := &Config{Capacity: 1, EnableCompression: true, CompressionLevel: 99}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for out-of-range compression level")
	}
}

func TestConfigValidateRequiresStoragePathForPersistence(t *testing.T) {
	c := &Config{Capacity: 1, EnablePersistence: true}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for persistence enabled without storage_path")
	}
}

func TestConfigClone(t *testing.T) {
	c := &Config{Capacity: 5, StoragePath: "x"}
	clone := c.Clone()
	clone.Capacity = 10
	if c.Capacity != 5 {
		t.Fatal("Clone should not alias the original")
	}
}
