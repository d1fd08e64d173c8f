// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

//go:build !deadlock

package syncutil

import (
	"sync"
	"sync/atomic"
)

// DeadlockEnabled is true if the deadlock detector is enabled.
const DeadlockEnabled = false

// A Mutex is a mutual exclusion lock that remembers whether it is held so
// that callers can assert on it.
type Mutex struct {
	mu   sync.Mutex
	held atomic.Bool
}

// Lock locks m.
func (m *Mutex) Lock() {
	m.mu.Lock()
	m.held.Store(true)
}

// Unlock unlocks m.
func (m *Mutex) Unlock() {
	m.held.Store(false)
	m.mu.Unlock()
}

// AssertHeld panics if the mutex is not locked. The lock is not required to be
// held by the calling goroutine, only by some goroutine.
func (m *Mutex) AssertHeld() {
	if !m.held.Load() {
		panic("syncutil: mutex is not locked")
	}
}

// An RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	mu      sync.RWMutex
	writing atomic.Bool
}

// Lock locks rw for writing.
func (rw *RWMutex) Lock() {
	rw.mu.Lock()
	rw.writing.Store(true)
}

// Unlock unlocks rw for writing.
func (rw *RWMutex) Unlock() {
	rw.writing.Store(false)
	rw.mu.Unlock()
}

// RLock locks rw for reading.
func (rw *RWMutex) RLock() { rw.mu.RLock() }

// RUnlock undoes a single RLock call.
func (rw *RWMutex) RUnlock() { rw.mu.RUnlock() }

// AssertHeld panics if rw is not locked for writing.
func (rw *RWMutex) AssertHeld() {
	if !rw.writing.Load() {
		panic("syncutil: rwmutex is not write-locked")
	}
}
