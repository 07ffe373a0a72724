// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package strata

import (
	"testing"
	"time"
)

func TestFakeClockAdvance(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	start := c.Now()
	c.Advance(5 * time.Second)
	if c.Now().Sub(start) != 5*time.Second {
		t.Fatalf("Advance did not move clock by 5s, got %v", c.Now().Sub(start))
	}
}

func TestFakeClockSet(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	target := time.Unix(1000, 0)
	c.Set(target)
	if !c.Now().Equal(target) {
		t.Fatalf("Set did not move clock to target, got %v want %v", c.Now(), target)
	}
}
