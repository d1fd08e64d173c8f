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
)

// lockTableWaiterImpl suspends a queued request until it is granted, its
// deadline elapses, its context is canceled or the stopper quiesces.
//
// Whichever of these happens first wins. Grants are decided under the
// lockState's mutex, and so is cancellation (see lockTableImpl.cancel), so a
// request is never both granted and timed out. A grant that races with an
// expiring deadline is reported as a success.
type lockTableWaiterImpl struct {
	lt      *lockTableImpl
	stopper *stop.Stopper
	metrics *Metrics

	// slowWaitThreshold, if positive, is the wait after which a warning is
	// logged, at most once per resource per slowWaitLogInterval.
	slowWaitThreshold time.Duration
	slowWaitLog       *util.KeyedEveryN[lock.Resource]
}

// slowWaitLogInterval is read by NewManager.
var slowWaitLogInterval = 10 * time.Second

// waitOn blocks until qr is resolved. A nil error means the lock is held.
func (w *lockTableWaiterImpl) waitOn(ctx context.Context, qr *queuedRequest) error {
	w.metrics.Waiting.Inc(1)
	defer w.metrics.Waiting.Dec(1)
	defer func() {
		w.metrics.WaitDuration.RecordValue(timeutil.Since(qr.enqueuedAt))
	}()

	var deadline timeutil.Timer
	defer deadline.Stop()
	deadline.ResetDeadline(qr.req.Deadline)

	var slowTimer timeutil.Timer
	defer slowTimer.Stop()
	if w.slowWaitThreshold > 0 {
		slowTimer.Reset(w.slowWaitThreshold)
	}
	var slow bool
	defer func() {
		if slow {
			w.metrics.SlowWaiting.Dec(1)
		}
	}()

	var quiesce <-chan struct{}
	if w.stopper != nil {
		quiesce = w.stopper.ShouldQuiesce()
	}

	res, mode := qr.req.Resource, qr.req.Mode
	for {
		select {
		case <-qr.signal:
			log.VEventf(ctx, 2, "granted %s lock on %s after waiting %s", mode, res, timeutil.Since(qr.enqueuedAt))
			return nil

		case <-deadline.C:
			deadline.Read = true
			if !w.lt.cancel(qr) {
				log.VEventf(ctx, 2, "granted %s lock on %s as its deadline expired", mode, res)
				return nil
			}
			w.metrics.Timeouts.Inc(1)
			err := &LockTimeoutError{Resource: res, Mode: mode, Waited: timeutil.Since(qr.enqueuedAt)}
			log.VEventf(ctx, 2, "%v", err)
			return err

		case <-ctx.Done():
			if !w.lt.cancel(qr) {
				return nil
			}
			w.metrics.Cancellations.Inc(1)
			log.VEventf(ctx, 2, "abandoned %s lock request on %s: %v", mode, res, ctx.Err())
			return errors.Wrapf(ctx.Err(), "waiting for %s lock on %s", mode, res)

		case <-quiesce:
			if !w.lt.cancel(qr) {
				return nil
			}
			w.metrics.Cancellations.Inc(1)
			return errors.Wrapf(ErrQuiescing, "waiting for %s lock on %s", mode, res)

		case <-slowTimer.C:
			slowTimer.Read = true
			if !slow {
				slow = true
				w.metrics.SlowWaiting.Inc(1)
			}
			if w.slowWaitLog.ShouldProcess(res, timeutil.Now()) {
				log.Warningf(ctx, "%s has been waiting %s for %s lock on %s held by %s",
					qr.req.Requester, timeutil.Since(qr.enqueuedAt), mode, res, w.lt.holders(res))
			}
		}
	}
}
