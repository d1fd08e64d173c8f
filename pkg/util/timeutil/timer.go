// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import (
	"sync"
	"time"
)

var timeTimerPool sync.Pool

// The Timer type represents a single event. When the Timer expires,
// the current time will be sent on Timer.C.
//
// Timers are pooled to avoid an allocation per lock wait. Unlike the standard
// library's Timer, this Timer does not start counting down until Reset or
// ResetDeadline is called, and the zero value is ready to use. A nil C
// blocks forever in a select, which is what a waiter without a deadline
// wants.
type Timer struct {
	timer *time.Timer
	// C is a local "copy" of timer.C that can be used in a select case before
	// the timer has been initialized.
	C <-chan time.Time
	// Read must be set by the caller after receiving from C so that a later
	// Reset does not need to drain the channel.
	Read bool
}

// Reset changes the timer to expire after duration d.
func (t *Timer) Reset(d time.Duration) {
	if t.timer == nil {
		switch pooled := timeTimerPool.Get(); pooled {
		case nil:
			t.timer = time.NewTimer(d)
		default:
			t.timer = pooled.(*time.Timer)
			t.timer.Reset(d)
		}
		t.C = t.timer.C
		return
	}
	if !t.timer.Stop() && !t.Read {
		select {
		case <-t.C:
		default:
		}
	}
	t.timer.Reset(d)
	t.Read = false
}

// ResetDeadline arranges for the timer to fire at the given instant. A zero
// deadline leaves the timer unarmed.
func (t *Timer) ResetDeadline(deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	t.Reset(Until(deadline))
}

// Stop prevents the Timer from firing and returns it to the pool. It returns
// true if the call stops the timer, false if the timer has already expired,
// been stopped previously, or was never armed.
func (t *Timer) Stop() bool {
	var res bool
	if t.timer != nil {
		res = t.timer.Stop()
		if !res && !t.Read {
			select {
			case <-t.C:
			default:
			}
		}
		timeTimerPool.Put(t.timer)
	}
	*t = Timer{}
	return res
}
