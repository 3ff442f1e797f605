// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"sync"
	"time"
)

// ReferenceTime is the FakeClock start when none is given.
var ReferenceTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// FakeClock is a manually advanced clock. Its Now method satisfies the
// func() time.Time hooks taken by install and archive.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock returns a clock reading initial, or ReferenceTime when
// initial is zero.
func NewFakeClock(initial time.Time) *FakeClock {
	if initial.IsZero() {
		initial = ReferenceTime
	}
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}
