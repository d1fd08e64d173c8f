// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package concurrency

import (
	"context"
	"time"

	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/google/btree"
	"github.com/google/uuid"
)

// WaiterInfo describes a pending lock request.
type WaiterInfo struct {
	// Seq orders waiters by the time they were enqueued.
	Seq            uint64        `json:"seq"`
	Resource       lock.Resource `json:"resource"`
	Mode           lock.Mode     `json:"mode"`
	Requester      Requester     `json:"requester"`
	EnqueuedAt     time.Time     `json:"enqueuedAt"`
	WaitingForLock bool          `json:"waitingForLock"`
}

// Filter selects waiters. Zero-valued fields match everything.
type Filter struct {
	Resource    lock.Resource
	Op          string
	Session     string
	RequesterID uuid.UUID
	// Func, if set, must also return true.
	Func func(WaiterInfo) bool
}

// Matches returns whether w passes the filter.
func (f Filter) Matches(w WaiterInfo) bool {
	if f.Resource != (lock.Resource{}) && f.Resource != w.Resource {
		return false
	}
	if f.Op != "" && f.Op != w.Requester.Op {
		return false
	}
	if f.Session != "" && f.Session != w.Requester.Session {
		return false
	}
	if f.RequesterID != uuid.Nil && f.RequesterID != w.Requester.ID {
		return false
	}
	return f.Func == nil || f.Func(w)
}

type waiterItem WaiterInfo

// Less implements btree.Item.
func (w *waiterItem) Less(than btree.Item) bool {
	return w.Seq < than.(*waiterItem).Seq
}

// WaiterRegistry exposes the pending lock requests for introspection. The
// lock table pushes every enqueue, grant and cancellation into it while
// holding the affected resource's mutex, so a snapshot reflects a
// consistent instant without ever touching the lock table itself.
type WaiterRegistry struct {
	mu struct {
		syncutil.Mutex
		waiters *btree.BTree
		// changed is closed, and replaced, on every change.
		changed chan struct{}
	}
}

// NewWaiterRegistry creates an empty registry.
func NewWaiterRegistry() *WaiterRegistry {
	r := &WaiterRegistry{}
	r.mu.waiters = btree.New(8)
	r.mu.changed = make(chan struct{})
	return r
}

func (r *WaiterRegistry) add(w WaiterInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := waiterItem(w)
	r.mu.waiters.ReplaceOrInsert(&item)
	r.notifyLocked()
}

func (r *WaiterRegistry) remove(seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.waiters.Delete(&waiterItem{Seq: seq}) != nil {
		r.notifyLocked()
	}
}

// REQUIRES: r.mu is locked.
func (r *WaiterRegistry) notifyLocked() {
	close(r.mu.changed)
	r.mu.changed = make(chan struct{})
}

// Snapshot returns the pending requests matching f, in enqueue order.
func (r *WaiterRegistry) Snapshot(f Filter) []WaiterInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(f)
}

// REQUIRES: r.mu is locked.
func (r *WaiterRegistry) snapshotLocked(f Filter) []WaiterInfo {
	var out []WaiterInfo
	r.mu.waiters.Ascend(func(i btree.Item) bool {
		if w := WaiterInfo(*i.(*waiterItem)); f.Matches(w) {
			out = append(out, w)
		}
		return true
	})
	return out
}

// Len returns the number of pending requests.
func (r *WaiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.waiters.Len()
}

// Changed returns a channel that is closed at the next change to the set of
// pending requests.
func (r *WaiterRegistry) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.changed
}

// WaitFor blocks until cond holds for the snapshot of waiters matching f and
// returns that snapshot. It re-evaluates cond on every change rather than
// polling.
func (r *WaiterRegistry) WaitFor(
	ctx context.Context, f Filter, cond func([]WaiterInfo) bool,
) ([]WaiterInfo, error) {
	for {
		r.mu.Lock()
		snap := r.snapshotLocked(f)
		changed := r.mu.changed
		r.mu.Unlock()
		if cond(snap) {
			return snap, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
