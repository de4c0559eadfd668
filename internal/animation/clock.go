// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package animation

import (
	"slices"
	"sync"
	"time"
)

// Clock schedules deferred function calls.
type Clock interface {
	// AfterFunc arranges for f to be called after d has
	// elapsed. The returned Timer can be used to cancel
	// the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable scheduled call.
type Timer interface {
	// Stop prevents the Timer from firing. It returns
	// false if the call has already been made or the
	// timer was already stopped.
	Stop() bool
}

// SystemClock is a Clock backed by the time package. Scheduled
// functions are called in their own goroutine.
var SystemClock Clock = systemClock{}

type systemClock struct{}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock is a Clock that only advances when Advance is called.
// It is intended for deterministic testing and simulation of playback.
// The zero value is a clock at time zero with no pending timers.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	when  time.Duration
	f     func()
	done  bool
}

// AfterFunc implements the Clock interface.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, when: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	c.timers = slices.DeleteFunc(c.timers, func(e *manualTimer) bool { return e == t })
	return true
}

// Advance moves the clock forward by d, calling the functions of timers
// that fall due in order of their scheduled time. Timers due at the same
// time fire in the order they were scheduled. Functions are called
// synchronously without the clock's lock held, so they may schedule
// further timers; these fire within the same call if they fall due
// before the advance completes. A function that repeatedly schedules
// itself with a zero delay will prevent Advance from returning.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	end := c.now + d
	for {
		next := -1
		for i, t := range c.timers {
			if t.when <= end && (next < 0 || t.when < c.timers[next].when) {
				next = i
			}
		}
		if next < 0 {
			break
		}
		t := c.timers[next]
		c.timers = slices.Delete(c.timers, next, next+1)
		t.done = true
		c.now = max(c.now, t.when)
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = end
	c.mu.Unlock()
}

// Now returns the time elapsed on the clock since its creation.
func (c *ManualClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Pending returns the number of timers waiting to fire.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}
