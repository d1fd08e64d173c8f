// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package txn tracks the locks held by multi-statement transactions so that
// a commit or abort releases all of them in one step.
package txn

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/google/uuid"
)

// Status is the state of a transaction.
type Status int8

const (
	// Pending transactions may acquire locks.
	Pending Status = iota
	// Committed is a terminal state.
	Committed
	// Aborted is a terminal state.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Committed:
		return "COMMITTED"
	case Aborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// SafeValue implements redact.SafeValue.
func (Status) SafeValue() {}

//go:generate mockgen -package=txn -destination=mocks_generated_test.go . LockManager

// LockManager is the part of concurrency.Manager used by transactions.
type LockManager interface {
	AcquireAll(
		ctx context.Context, requester concurrency.Requester, targets []lock.Target, deadline time.Time,
	) ([]concurrency.Grant, error)
	ReleaseAll(ctx context.Context, id uuid.UUID, resources []lock.Resource) error
}

var _ LockManager = (*concurrency.Manager)(nil)

// Context is a transaction's view of the locks it holds. It is identified by
// its session; the locks are owned by the lock manager and the Context only
// keeps references to them so that Finish can release them together.
//
// A Context is safe for concurrent use, but statements of one transaction
// are expected to acquire locks one at a time.
type Context struct {
	session   string
	requester concurrency.Requester
	lm        LockManager
	// lockTimeout bounds the wait of each acquisition. Zero waits
	// indefinitely.
	lockTimeout time.Duration

	mu struct {
		syncutil.Mutex
		status Status
		// grants maps each resource to the strongest mode granted on it.
		grants map[lock.Resource]lock.Mode
	}
}

// NewContext creates a pending transaction for session.
func NewContext(session string, lm LockManager, lockTimeout time.Duration) *Context {
	c := &Context{
		session:     session,
		requester:   concurrency.NewRequester(concurrency.Transaction, "txn", session),
		lm:          lm,
		lockTimeout: lockTimeout,
	}
	c.mu.grants = make(map[lock.Resource]lock.Mode)
	return c
}

// ID returns the transaction's requester ID.
func (c *Context) ID() uuid.UUID { return c.requester.ID }

// Session returns the session that owns the transaction.
func (c *Context) Session() string { return c.session }

// Status returns the transaction's current status.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mu.status
}

// IsOpen returns whether the transaction may still acquire locks.
func (c *Context) IsOpen() bool { return c.Status() == Pending }

// String implements fmt.Stringer.
func (c *Context) String() string {
	return redact.StringWithoutMarkers(c)
}

// SafeFormat implements redact.SafeFormatter.
func (c *Context) SafeFormat(w redact.SafePrinter, _ rune) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.Printf("txn %s (%s, %d locks)", c.session, c.mu.status, len(c.mu.grants))
}

func (c *Context) annotate(ctx context.Context) context.Context {
	return logtags.AddTag(ctx, "txn", c.session)
}

// Acquire acquires res in mode, together with the intents it implies on
// res's database, waiting at most the transaction lock timeout. The grants
// are recorded so that Finish releases them.
//
// On failure, including a timeout, the transaction stays open with the
// grants it held before the call; deciding to abort is up to the caller.
func (c *Context) Acquire(ctx context.Context, res lock.Resource, mode lock.Mode) error {
	ctx = c.annotate(ctx)
	if err := c.checkOpen(ctx, "acquire"); err != nil {
		return err
	}
	if mode <= lock.None || mode > lock.MaxMode {
		return errors.AssertionFailedf("invalid lock mode %d", errors.Safe(int(mode)))
	}
	var deadline time.Time
	if c.lockTimeout > 0 {
		deadline = timeutil.Now().Add(c.lockTimeout)
	}
	targets := lock.Expand([]lock.Target{{Resource: res, Mode: mode}})
	grants, err := c.lm.AcquireAll(ctx, c.requester, targets, deadline)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.mu.status != Pending {
		// The transaction was finished while this statement was waiting.
		// The locks just granted would never be released otherwise.
		status := c.mu.status
		c.mu.Unlock()
		err := concurrency.NewInvalidStateErrorf("transaction %s %s while acquiring %s", c.session, status, res)
		log.Errorf(ctx, "%v", err)
		return errors.CombineErrors(err, c.releaseNew(ctx, grants))
	}
	for _, g := range grants {
		c.recordGrantLocked(g)
	}
	c.mu.Unlock()
	log.VEventf(ctx, 2, "acquired %s lock on %s", mode, res)
	return nil
}

// releaseNew releases grants made by Acquire after the transaction was
// finished concurrently. Finish cannot have released them because they
// were never recorded.
func (c *Context) releaseNew(ctx context.Context, grants []concurrency.Grant) error {
	var resources []lock.Resource
	for _, g := range grants {
		resources = append(resources, g.Resource)
	}
	return c.lm.ReleaseAll(ctx, c.ID(), resources)
}

func (c *Context) checkOpen(ctx context.Context, op redact.SafeString) error {
	c.mu.Lock()
	status := c.mu.status
	c.mu.Unlock()
	if status == Pending {
		return nil
	}
	err := concurrency.NewInvalidStateErrorf("cannot %s: transaction %s is %s", op, c.session, status)
	log.Errorf(ctx, "%v", err)
	return err
}

// RecordGrant adds g to the set of locks released by Finish. Recording the
// same resource again keeps the strongest mode, so no lock is released
// twice.
func (c *Context) RecordGrant(g concurrency.Grant) error {
	if g.Requester != c.ID() {
		return errors.AssertionFailedf("grant for %s recorded by transaction %s", g.Requester, c.ID())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mu.status != Pending {
		return concurrency.NewInvalidStateErrorf("cannot record grant: transaction %s is %s", c.session, c.mu.status)
	}
	c.recordGrantLocked(g)
	return nil
}

// REQUIRES: c.mu is locked.
func (c *Context) recordGrantLocked(g concurrency.Grant) {
	c.mu.grants[g.Resource] = lock.Max(c.mu.grants[g.Resource], g.Mode)
}

// Grants returns the locks held by the transaction in global resource
// order.
func (c *Context) Grants() []concurrency.Grant {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs := make([]concurrency.Grant, 0, len(c.mu.grants))
	for res, mode := range c.mu.grants {
		gs = append(gs, concurrency.Grant{Requester: c.ID(), Resource: res, Mode: mode})
	}
	sort.Slice(gs, func(i, j int) bool { return gs[i].Resource.Less(gs[j].Resource) })
	return gs
}

// Finish moves the transaction to outcome, which must be Committed or
// Aborted, and releases every lock it holds in a single step. Finishing a
// transaction twice is an ErrInvalidState assertion failure.
func (c *Context) Finish(ctx context.Context, outcome Status) error {
	ctx = c.annotate(ctx)
	if outcome != Committed && outcome != Aborted {
		return errors.AssertionFailedf("invalid transaction outcome %s", outcome)
	}
	c.mu.Lock()
	if c.mu.status != Pending {
		status := c.mu.status
		c.mu.Unlock()
		err := concurrency.NewInvalidStateErrorf("cannot finish as %s: transaction %s is already %s",
			outcome, c.session, status)
		log.Errorf(ctx, "%v", err)
		return err
	}
	c.mu.status = outcome
	resources := make([]lock.Resource, 0, len(c.mu.grants))
	for res := range c.mu.grants {
		resources = append(resources, res)
	}
	c.mu.grants = make(map[lock.Resource]lock.Mode)
	c.mu.Unlock()

	log.VEventf(ctx, 2, "%s; releasing %d locks", outcome, len(resources))
	if len(resources) == 0 {
		return nil
	}
	return c.lm.ReleaseAll(ctx, c.ID(), resources)
}

// Commit is Finish(ctx, Committed).
func (c *Context) Commit(ctx context.Context) error {
	return c.Finish(ctx, Committed)
}

// Abort is Finish(ctx, Aborted).
func (c *Context) Abort(ctx context.Context) error {
	return c.Finish(ctx, Aborted)
}
