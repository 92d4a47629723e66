// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultFlushInterval is the minimum spacing between throttled flushes.
const DefaultFlushInterval = 50 * time.Millisecond

// Throttler limits flushes to one per interval.
//
// Request either grants an immediate flush or schedules exactly one deferred
// flush at the next free slot. Further requests while a flush is pending are
// coalesced into it. The deferred callback runs on the clock's goroutine.
type Throttler struct {
	mu      sync.Mutex
	clock   Clock
	limiter *rate.Limiter
	fire    func()
	pending bool
	timer   Timer
	stopped bool
}

// NewThrottler creates a throttler that calls fire for deferred flushes.
// An interval of zero or less disables throttling.
func NewThrottler(interval time.Duration, clock Clock, fire func()) *Throttler {
	if clock == nil {
		clock = SystemClock{}
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttler{
		clock:   clock,
		limiter: rate.NewLimiter(limit, 1),
		fire:    fire,
	}
}

// Request asks for a flush. It returns true when the caller should flush
// right now; otherwise a deferred flush is (or already was) scheduled.
func (t *Throttler) Request() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.pending {
		return false
	}

	now := t.clock.Now()
	delay := t.limiter.ReserveN(now, 1).DelayFrom(now)
	if delay <= 0 {
		return true
	}

	t.pending = true
	t.timer = t.clock.AfterFunc(delay, t.onTimer)
	return false
}

// Pending reports whether a deferred flush is scheduled.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Stop cancels any deferred flush and refuses further requests.
// It returns true if a flush was pending.
func (t *Throttler) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasPending := t.pending
	t.stopped = true
	t.pending = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	return wasPending
}

func (t *Throttler) onTimer() {
	t.mu.Lock()
	if t.stopped || !t.pending {
		t.mu.Unlock()
		return
	}
	t.pending = false
	t.timer = nil
	t.mu.Unlock()

	t.fire()
}
