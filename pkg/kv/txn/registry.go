// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package txn

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/cockroachdb/logtags"
)

// Registry maps sessions to their open transactions. A session has at most
// one open transaction at a time.
type Registry struct {
	lm          LockManager
	lockTimeout time.Duration

	mu struct {
		syncutil.Mutex
		txns map[string]*Context
	}
}

// NewRegistry returns a Registry whose transactions acquire locks through
// lm, waiting at most lockTimeout for each.
func NewRegistry(lm LockManager, lockTimeout time.Duration) *Registry {
	r := &Registry{lm: lm, lockTimeout: lockTimeout}
	r.mu.txns = make(map[string]*Context)
	return r
}

// Begin starts a transaction for session.
func (r *Registry) Begin(session string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mu.txns[session]; ok {
		return nil, concurrency.NewInvalidStateErrorf("session %s already has an open transaction", session)
	}
	c := NewContext(session, r.lm, r.lockTimeout)
	r.mu.txns[session] = c
	return c, nil
}

// Get returns the open transaction of session.
func (r *Registry) Get(session string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.mu.txns[session]
	if !ok {
		return nil, errors.Wrapf(concurrency.ErrNoSuchTransaction, "session %s", session)
	}
	return c, nil
}

// take removes and returns the open transaction of session.
func (r *Registry) take(session string) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.mu.txns[session]
	if !ok {
		return nil, errors.Wrapf(concurrency.ErrNoSuchTransaction, "session %s", session)
	}
	delete(r.mu.txns, session)
	return c, nil
}

// Commit commits the open transaction of session, releasing its locks.
func (r *Registry) Commit(ctx context.Context, session string) error {
	c, err := r.take(session)
	if err != nil {
		return err
	}
	return c.Commit(ctx)
}

// Abort aborts the open transaction of session, releasing its locks.
func (r *Registry) Abort(ctx context.Context, session string) error {
	c, err := r.take(session)
	if err != nil {
		return err
	}
	return c.Abort(ctx)
}

// Active returns the open transactions ordered by session.
func (r *Registry) Active() []*Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := make([]*Context, 0, len(r.mu.txns))
	for _, c := range r.mu.txns {
		cs = append(cs, c)
	}
	sort.Slice(cs, func(i, j int) bool { return cs[i].session < cs[j].session })
	return cs
}

// AbortAll aborts every open transaction. It is used on shutdown.
func (r *Registry) AbortAll(ctx context.Context) error {
	var err error
	for _, c := range r.Active() {
		if aErr := r.Abort(ctx, c.session); aErr != nil && !errors.Is(aErr, concurrency.ErrNoSuchTransaction) {
			err = errors.CombineErrors(err, aErr)
		}
	}
	if n := len(r.Active()); n > 0 {
		log.Warningf(logtags.AddTag(ctx, "txn-registry", nil), "%d transactions began during shutdown", n)
	}
	return err
}
