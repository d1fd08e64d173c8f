// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package concurrency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/stop"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/google/uuid"
)

// Config configures a Manager.
type Config struct {
	// Stopper, if set, causes waiting requests to fail with ErrQuiescing
	// once it begins to quiesce.
	Stopper *stop.Stopper
	// SlowWaitThreshold is the wait after which a lock request is reported
	// in the logs and in Metrics.SlowWaiting. Zero disables reporting.
	SlowWaitThreshold time.Duration
}

// Manager is the entry point of the lock arbiter. It grants, queues,
// upgrades and releases locks on resources on behalf of transactions and
// DDL operations. All waiting happens inside Acquire and AcquireAll.
type Manager struct {
	// Authoritative conflict state of every resource.
	lt *lockTableImpl
	// Waits for queued requests to be granted.
	ltw *lockTableWaiterImpl
	// Pending requests, for introspection.
	reg     *WaiterRegistry
	metrics *Metrics
	stopper *stop.Stopper
}

// NewManager creates a new concurrency Manager structure.
func NewManager(cfg Config) *Manager {
	reg := NewWaiterRegistry()
	metrics := makeMetrics()
	lt := newLockTable(reg)
	return &Manager{
		lt: lt,
		ltw: &lockTableWaiterImpl{
			lt:                lt,
			stopper:           cfg.Stopper,
			metrics:           metrics,
			slowWaitThreshold: cfg.SlowWaitThreshold,
			slowWaitLog:       util.EveryKeyed[lock.Resource](slowWaitLogInterval),
		},
		reg:     reg,
		metrics: metrics,
		stopper: cfg.Stopper,
	}
}

// Acquire acquires req.Resource in req.Mode. The lock is granted
// immediately if it is compatible with the current holders and with every
// request already queued on the resource. Otherwise the caller is suspended
// until the lock is granted, req.Deadline elapses (a *LockTimeoutError), ctx
// is canceled, or the manager quiesces (ErrQuiescing). A request that fails
// leaves no trace in the lock table.
//
// Acquiring a mode weaker than or equal to one already held succeeds
// immediately without changing the hold.
func (m *Manager) Acquire(ctx context.Context, req Request) (Grant, error) {
	if _, err := m.acquire(ctx, req); err != nil {
		return Grant{}, err
	}
	return Grant{Requester: req.Requester.ID, Resource: req.Resource, Mode: req.Mode}, nil
}

// acquire is Acquire, also returning the mode held before the call.
func (m *Manager) acquire(ctx context.Context, req Request) (lock.Mode, error) {
	if err := req.validate(); err != nil {
		return lock.None, err
	}
	if m.stopper != nil {
		select {
		case <-m.stopper.ShouldQuiesce():
			return lock.None, errors.Wrapf(ErrQuiescing, "acquiring %s lock on %s", req.Mode, req.Resource)
		default:
		}
	}

	qr, prior := m.lt.acquire(req, timeutil.Now())
	if qr == nil {
		m.metrics.Acquisitions.Inc(1, req.Mode.String(), outcomeImmediate)
		log.VEventf(ctx, 3, "acquired %s lock on %s", req.Mode, req.Resource)
		return prior, nil
	}

	if log.ExpensiveLogEnabled(ctx, 2) {
		log.VEventf(ctx, 2, "waiting for %s lock on %s held by %s",
			req.Mode, req.Resource, m.lt.holders(req.Resource))
	}
	if err := m.ltw.waitOn(ctx, qr); err != nil {
		return prior, err
	}
	m.metrics.Acquisitions.Inc(1, req.Mode.String(), outcomeWaited)
	return prior, nil
}

// AcquireAll acquires every target on behalf of requester, in order, each
// bounded by deadline. The targets must be in strictly increasing global
// resource order (see lock.Expand); otherwise the call fails with
// ErrOrderingViolation before any lock is taken.
//
// If any target cannot be acquired, every grant made by this call is rolled
// back before the error is returned, leaving requester's holds exactly as
// they were.
func (m *Manager) AcquireAll(
	ctx context.Context, requester Requester, targets []lock.Target, deadline time.Time,
) ([]Grant, error) {
	if err := lock.ValidateOrder(targets); err != nil {
		err = newOrderingViolationError(err)
		log.Errorf(ctx, "%v", err)
		return nil, err
	}

	grants := make([]Grant, 0, len(targets))
	priors := make([]lock.Mode, 0, len(targets))
	for _, t := range targets {
		req := Request{Requester: requester, Resource: t.Resource, Mode: t.Mode, Deadline: deadline}
		prior, err := m.acquire(ctx, req)
		if err != nil {
			m.rollback(ctx, requester.ID, grants, priors)
			return nil, err
		}
		grants = append(grants, Grant{Requester: requester.ID, Resource: t.Resource, Mode: t.Mode})
		priors = append(priors, prior)
	}
	return grants, nil
}

func (m *Manager) rollback(ctx context.Context, id uuid.UUID, grants []Grant, priors []lock.Mode) {
	for i := len(grants) - 1; i >= 0; i-- {
		m.lt.restore(id, grants[i].Resource, priors[i])
	}
	if len(grants) > 0 {
		log.VEventf(ctx, 2, "rolled back %d locks", len(grants))
	}
}

// Release drops every mode in which id holds res and grants the requests
// that this makes grantable. Releasing a resource that is not held is an
// ErrInvalidState assertion failure.
func (m *Manager) Release(ctx context.Context, id uuid.UUID, res lock.Resource) error {
	if !m.lt.release(id, res) {
		err := NewInvalidStateErrorf("%s does not hold %s", id, res)
		log.Errorf(ctx, "%v", err)
		return err
	}
	m.metrics.Releases.Inc(1)
	log.VEventf(ctx, 3, "released %s", res)
	return nil
}

// ReleaseAll drops id's holds on all of resources atomically: no other
// request observes id holding some of them but not others. Resources that
// id does not hold are reported together in the returned error, after the
// others have been released.
func (m *Manager) ReleaseAll(ctx context.Context, id uuid.UUID, resources []lock.Resource) error {
	released, notHeld := m.lt.releaseAll(id, resources)
	var err error
	for _, res := range notHeld {
		err = errors.CombineErrors(err, NewInvalidStateErrorf("%s does not hold %s", id, res))
	}
	m.metrics.Releases.Inc(int64(released))
	log.VEventf(ctx, 3, "released %d locks", released)
	if err != nil {
		log.Errorf(ctx, "%v", err)
	}
	return err
}

// Holders returns the current holders of res.
func (m *Manager) Holders(res lock.Resource) []Holder {
	return m.lt.holders(res)
}

// HeldMode returns the strongest mode in which id holds res, or lock.None.
func (m *Manager) HeldMode(id uuid.UUID, res lock.Resource) lock.Mode {
	return m.lt.heldMode(id, res)
}

// IsHeld returns whether id holds res in at least mode.
func (m *Manager) IsHeld(id uuid.UUID, res lock.Resource, mode lock.Mode) bool {
	held := m.lt.heldMode(id, res)
	return held != lock.None && held >= mode
}

// Locks returns the state of every resource with holders or waiters, in
// global resource order.
func (m *Manager) Locks() []LockStateInfo {
	return m.lt.snapshot()
}

// Waiters returns the registry of pending requests.
func (m *Manager) Waiters() *WaiterRegistry {
	return m.reg
}

// Metrics returns the manager's metrics.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// String returns a dump of the lock table in global resource order.
func (m *Manager) String() string {
	return m.lt.String()
}
