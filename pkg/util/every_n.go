// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package util

import (
	"time"

	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
)

// EveryN provides a way to rate limit spammy events. It tracks how recently a
// given event has occurred so that it can determine whether it's worth
// handling again.
//
// The zero value for EveryN is usable and is equivalent to Every(0), meaning
// that all calls to ShouldProcess will return true.
type EveryN struct {
	// N is the minimum duration of time between events.
	N time.Duration

	mu            syncutil.Mutex
	lastProcessed time.Time
}

// Every is a convenience constructor for an EveryN object that allows an
// event every n duration.
func Every(n time.Duration) *EveryN {
	return &EveryN{N: n}
}

// ShouldProcess returns whether it's been more than N time since the last event.
func (e *EveryN) ShouldProcess(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Sub(e.lastProcessed) >= e.N {
		e.lastProcessed = now
		return true
	}
	return false
}

// KeyedEveryN rate limits events independently per key, e.g. one slow-wait
// warning per contended resource.
type KeyedEveryN[K comparable] struct {
	N time.Duration

	mu   syncutil.Mutex
	last map[K]time.Time
}

// EveryKeyed constructs a KeyedEveryN allowing one event per key every n.
func EveryKeyed[K comparable](n time.Duration) *KeyedEveryN[K] {
	return &KeyedEveryN[K]{N: n}
}

// ShouldProcess returns whether it's been more than N time since the last
// event for key.
func (e *KeyedEveryN[K]) ShouldProcess(key K, now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		e.last = make(map[K]time.Time)
	}
	if last, ok := e.last[key]; ok && now.Sub(last) < e.N {
		return false
	}
	e.last[key] = now
	return true
}

// Forget drops the state kept for key.
func (e *KeyedEveryN[K]) Forget(key K) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.last, key)
}
