// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package concurrency

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/google/btree"
	"github.com/google/uuid"
)

// lockTableImpl is the authoritative conflict state for every lockable
// resource. It is an arena of lockStates addressed by resource, each with
// its own mutex, so that requests on unrelated resources never contend.
//
// The table's own mutex only guards the arena: the map used for lookups and
// the btree used to iterate the lockStates in global resource order. It is
// held for the duration of a lookup, never while waiting.
//
// Lock ordering: lockTableImpl.mu > lockState.mu > WaiterRegistry.mu.
// Several lockState mutexes are only ever held together in increasing
// resource order (see releaseAll).
//
// A request is granted when its mode is compatible with every other holder
// of the resource and with every request queued on the resource. Otherwise
// it joins the resource's FIFO queue. When holders go away the queue is
// re-evaluated from the front, granting requests until the first one that
// is still incompatible. A later request is never granted ahead of an
// earlier conflicting one, so a stream of intent locks cannot starve an
// Exclusive waiter.
//
// A requester that already holds the resource and asks for a stronger mode
// (an upgrade) only needs to be compatible with the other holders. If it
// must wait, it is queued ahead of requesters that hold nothing.
type lockTableImpl struct {
	seq atomic.Uint64
	reg *WaiterRegistry

	mu struct {
		syncutil.RWMutex
		locks map[lock.Resource]*lockState
		// idx orders the lockStates in locks by resource.
		idx *btree.BTree
	}
}

func newLockTable(reg *WaiterRegistry) *lockTableImpl {
	t := &lockTableImpl{reg: reg}
	t.mu.locks = make(map[lock.Resource]*lockState)
	t.mu.idx = btree.New(8)
	return t
}

type holder struct {
	req  Requester
	mode lock.Mode
}

// lockState is the per-resource state machine: the current holders and the
// queue of pending requests.
type lockState struct {
	res lock.Resource

	mu syncutil.Mutex
	// holders maps a requester to the strongest mode it holds.
	holders map[uuid.UUID]*holder
	// queue of *queuedRequest in grant order.
	queue list.List
	// removed is set when the lockState was garbage collected from the
	// table. A request that finds it set must look the resource up again.
	removed bool
}

var _ btree.Item = (*lockState)(nil)

// Less implements btree.Item.
func (l *lockState) Less(than btree.Item) bool {
	return l.res.Less(than.(*lockState).res)
}

// queuedRequest is a request waiting in a lockState's queue.
type queuedRequest struct {
	req        Request
	seq        uint64
	enqueuedAt time.Time
	// prior is the mode the requester held when the request was made.
	prior lock.Mode
	// signal is notified once the request is granted. It has a buffer of
	// one so that notify never blocks.
	signal chan struct{}
	l      *lockState

	// Fields below are protected by l.mu.
	elem    *list.Element
	granted bool
}

func (qr *queuedRequest) notify() {
	select {
	case qr.signal <- struct{}{}:
	default:
	}
}

func (qr *queuedRequest) upgrade() bool {
	return qr.prior != lock.None
}

func (qr *queuedRequest) waiterInfo() WaiterInfo {
	return WaiterInfo{
		Seq:            qr.seq,
		Resource:       qr.req.Resource,
		Mode:           qr.req.Mode,
		Requester:      qr.req.Requester,
		EnqueuedAt:     qr.enqueuedAt,
		WaitingForLock: true,
	}
}

func (t *lockTableImpl) lookup(res lock.Resource) *lockState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.locks[res]
}

func (t *lockTableImpl) getOrCreate(res lock.Resource) *lockState {
	if l := t.lookup(res); l != nil {
		return l
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.mu.locks[res]; ok {
		return l
	}
	l := &lockState{res: res, holders: make(map[uuid.UUID]*holder)}
	t.mu.locks[res] = l
	t.mu.idx.ReplaceOrInsert(l)
	return l
}

// acquire grants req immediately if possible and otherwise enqueues it. It
// returns the queued request, or nil if the lock was granted, along with the
// mode the requester held before the call.
func (t *lockTableImpl) acquire(req Request, now time.Time) (*queuedRequest, lock.Mode) {
	for {
		l := t.getOrCreate(req.Resource)
		l.mu.Lock()
		if l.removed {
			l.mu.Unlock()
			continue
		}
		qr, prior := l.acquireLocked(t, req, now)
		l.mu.Unlock()
		return qr, prior
	}
}

// REQUIRES: l.mu is locked.
func (l *lockState) acquireLocked(
	t *lockTableImpl, req Request, now time.Time,
) (*queuedRequest, lock.Mode) {
	id := req.Requester.ID
	var prior lock.Mode
	if h, ok := l.holders[id]; ok {
		prior = h.mode
	}
	if prior >= req.Mode {
		// Already held in at least the requested mode.
		return nil, prior
	}
	if l.compatibleWithHoldersLocked(id, req.Mode) &&
		(prior != lock.None || l.compatibleWithQueueLocked(id, req.Mode)) {
		l.grantLocked(req.Requester, req.Mode)
		return nil, prior
	}
	qr := &queuedRequest{
		req:        req,
		seq:        t.seq.Add(1),
		enqueuedAt: now,
		prior:      prior,
		signal:     make(chan struct{}, 1),
		l:          l,
	}
	l.enqueueLocked(qr)
	t.reg.add(qr.waiterInfo())
	return qr, prior
}

// REQUIRES: l.mu is locked.
func (l *lockState) compatibleWithHoldersLocked(id uuid.UUID, mode lock.Mode) bool {
	for hid, h := range l.holders {
		if hid != id && h.mode.Conflicts(mode) {
			return false
		}
	}
	return true
}

// REQUIRES: l.mu is locked.
func (l *lockState) compatibleWithQueueLocked(id uuid.UUID, mode lock.Mode) bool {
	for e := l.queue.Front(); e != nil; e = e.Next() {
		qr := e.Value.(*queuedRequest)
		if qr.req.Requester.ID != id && qr.req.Mode.Conflicts(mode) {
			return false
		}
	}
	return true
}

// REQUIRES: l.mu is locked.
func (l *lockState) grantLocked(req Requester, mode lock.Mode) {
	if h, ok := l.holders[req.ID]; ok {
		h.mode = lock.Max(h.mode, mode)
		return
	}
	l.holders[req.ID] = &holder{req: req, mode: mode}
}

// enqueueLocked appends qr to the queue. Upgrades are placed behind earlier
// upgrades but ahead of every request from a requester that holds nothing.
//
// REQUIRES: l.mu is locked.
func (l *lockState) enqueueLocked(qr *queuedRequest) {
	if qr.upgrade() {
		for e := l.queue.Front(); e != nil; e = e.Next() {
			if !e.Value.(*queuedRequest).upgrade() {
				qr.elem = l.queue.InsertBefore(qr, e)
				return
			}
		}
	}
	qr.elem = l.queue.PushBack(qr)
}

// processQueueLocked grants the longest grantable prefix of the queue and
// notifies the granted requests. Every request ahead of a candidate has
// been granted by the time the candidate is considered, so compatibility
// with the holders is sufficient.
//
// REQUIRES: l.mu is locked.
func (l *lockState) processQueueLocked(reg *WaiterRegistry) {
	for e := l.queue.Front(); e != nil; e = l.queue.Front() {
		qr := e.Value.(*queuedRequest)
		if !l.compatibleWithHoldersLocked(qr.req.Requester.ID, qr.req.Mode) {
			return
		}
		l.queue.Remove(e)
		qr.elem = nil
		qr.granted = true
		l.grantLocked(qr.req.Requester, qr.req.Mode)
		reg.remove(qr.seq)
		qr.notify()
	}
}

// REQUIRES: l.mu is locked.
func (l *lockState) emptyLocked() bool {
	return len(l.holders) == 0 && l.queue.Len() == 0
}

// cancel removes qr from its queue without granting it. It returns false if
// qr was granted first, in which case the caller holds the lock.
func (t *lockTableImpl) cancel(qr *queuedRequest) bool {
	l := qr.l
	l.mu.Lock()
	if qr.granted {
		l.mu.Unlock()
		return false
	}
	l.queue.Remove(qr.elem)
	qr.elem = nil
	t.reg.remove(qr.seq)
	// The cancelled request may have been the only thing blocking the
	// requests behind it.
	l.processQueueLocked(t.reg)
	l.mu.Unlock()
	t.maybeGC(l)
	return true
}

// release drops id's hold on res. It returns false if id held nothing.
func (t *lockTableImpl) release(id uuid.UUID, res lock.Resource) bool {
	l := t.lookup(res)
	if l == nil {
		return false
	}
	l.mu.Lock()
	if _, ok := l.holders[id]; !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.holders, id)
	l.processQueueLocked(t.reg)
	l.mu.Unlock()
	t.maybeGC(l)
	return true
}

// releaseAll drops id's holds on every resource in resources as a single
// step: all affected lockStates are locked, in global order, before any of
// them is changed, so no request can observe id holding only some of them.
// It returns the number of distinct resources released and the resources
// that id did not hold.
func (t *lockTableImpl) releaseAll(
	id uuid.UUID, resources []lock.Resource,
) (released int, notHeld []lock.Resource) {
	sorted := append([]lock.Resource(nil), resources...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	states := make([]*lockState, 0, len(sorted))
	for i, res := range sorted {
		if i > 0 && sorted[i-1] == res {
			continue
		}
		if l := t.lookup(res); l != nil {
			states = append(states, l)
		} else {
			notHeld = append(notHeld, res)
		}
	}

	for _, l := range states {
		l.mu.Lock()
	}
	held := make([]*lockState, 0, len(states))
	for _, l := range states {
		if _, ok := l.holders[id]; !ok {
			notHeld = append(notHeld, l.res)
			continue
		}
		delete(l.holders, id)
		held = append(held, l)
	}
	for _, l := range held {
		l.processQueueLocked(t.reg)
	}
	for i := len(states) - 1; i >= 0; i-- {
		states[i].mu.Unlock()
	}
	for _, l := range held {
		t.maybeGC(l)
	}
	return len(held), notHeld
}

// restore puts id's hold on res back to prior, undoing a grant made by a
// multi-resource acquisition that failed.
func (t *lockTableImpl) restore(id uuid.UUID, res lock.Resource, prior lock.Mode) {
	l := t.lookup(res)
	if l == nil {
		return
	}
	l.mu.Lock()
	if h, ok := l.holders[id]; ok {
		if prior == lock.None {
			delete(l.holders, id)
		} else {
			h.mode = prior
		}
		l.processQueueLocked(t.reg)
	}
	l.mu.Unlock()
	t.maybeGC(l)
}

// maybeGC removes l from the table if it has neither holders nor waiters.
func (t *lockTableImpl) maybeGC(l *lockState) {
	l.mu.Lock()
	empty := l.emptyLocked() && !l.removed
	l.mu.Unlock()
	if !empty {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed || !l.emptyLocked() {
		return
	}
	l.removed = true
	delete(t.mu.locks, l.res)
	t.mu.idx.Delete(l)
}

// heldMode returns the mode in which id holds res.
func (t *lockTableImpl) heldMode(id uuid.UUID, res lock.Resource) lock.Mode {
	l := t.lookup(res)
	if l == nil {
		return lock.None
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holders[id]; ok {
		return h.mode
	}
	return lock.None
}

// holders returns the holders of res sorted by requester.
func (t *lockTableImpl) holders(res lock.Resource) []Holder {
	l := t.lookup(res)
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holdersLocked()
}

// REQUIRES: l.mu is locked.
func (l *lockState) holdersLocked() []Holder {
	hs := make([]Holder, 0, len(l.holders))
	for _, h := range l.holders {
		hs = append(hs, Holder{Requester: h.req, Mode: h.mode})
	}
	sort.Slice(hs, func(i, j int) bool {
		a, b := hs[i].Requester, hs[j].Requester
		if as, bs := a.String(), b.String(); as != bs {
			return as < bs
		}
		return a.ID.String() < b.ID.String()
	})
	return hs
}

// LockStateInfo describes one resource of the lock table for debugging.
type LockStateInfo struct {
	Resource lock.Resource `json:"resource"`
	Holders  []HolderInfo  `json:"holders"`
	Waiters  []HolderInfo  `json:"waiters,omitempty"`
}

// HolderInfo is a requester and mode in a LockStateInfo.
type HolderInfo struct {
	Requester string    `json:"requester"`
	Kind      string    `json:"kind"`
	Op        string    `json:"op,omitempty"`
	Mode      lock.Mode `json:"mode"`
}

// snapshot returns the state of every resource in global order. Each
// lockState is captured under its own mutex, so resources are individually
// but not mutually consistent.
func (t *lockTableImpl) snapshot() []LockStateInfo {
	t.mu.RLock()
	states := make([]*lockState, 0, t.mu.idx.Len())
	t.mu.idx.Ascend(func(i btree.Item) bool {
		states = append(states, i.(*lockState))
		return true
	})
	t.mu.RUnlock()

	infos := make([]LockStateInfo, 0, len(states))
	for _, l := range states {
		l.mu.Lock()
		if l.removed {
			l.mu.Unlock()
			continue
		}
		info := LockStateInfo{Resource: l.res}
		for _, h := range l.holdersLocked() {
			info.Holders = append(info.Holders, makeHolderInfo(h.Requester, h.Mode))
		}
		for e := l.queue.Front(); e != nil; e = e.Next() {
			qr := e.Value.(*queuedRequest)
			info.Waiters = append(info.Waiters, makeHolderInfo(qr.req.Requester, qr.req.Mode))
		}
		l.mu.Unlock()
		infos = append(infos, info)
	}
	return infos
}

func makeHolderInfo(r Requester, m lock.Mode) HolderInfo {
	return HolderInfo{Requester: r.String(), Kind: r.Kind.String(), Op: r.Op, Mode: m}
}

// String returns a deterministic dump of the table in global resource order.
func (t *lockTableImpl) String() string {
	var sb strings.Builder
	for _, info := range t.snapshot() {
		fmt.Fprintf(&sb, "res: %s\n", info.Resource)
		for _, h := range info.Holders {
			fmt.Fprintf(&sb, "  holder: %s %s\n", h.Requester, h.Mode)
		}
		for _, w := range info.Waiters {
			fmt.Fprintf(&sb, "  waiter: %s %s\n", w.Requester, w.Mode)
		}
	}
	return sb.String()
}
