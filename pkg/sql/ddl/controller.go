// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package ddl admits schema changes against the lock manager. A schema
// change locks its resources exclusively, bounded by a deadline, runs its
// body and releases the locks. When the deadline elapses first, the body is
// never run and the caller gets an "exceeded time limit" error.
package ddl

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/metric"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/cockroachdb/logtags"
	"github.com/google/uuid"
)

//go:generate mockgen -package=ddl -destination=mocks_generated_test.go . LockManager

// LockManager is the part of concurrency.Manager used by the Controller.
type LockManager interface {
	AcquireAll(
		ctx context.Context, requester concurrency.Requester, targets []lock.Target, deadline time.Time,
	) ([]concurrency.Grant, error)
	ReleaseAll(ctx context.Context, id uuid.UUID, resources []lock.Resource) error
}

// Outcomes recorded by Metrics.Operations.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeError   = "error"
)

// Metrics are the Controller's metrics.
type Metrics struct {
	Operations *metric.CounterVec
	Duration   *metric.Histogram
}

func makeMetrics() *Metrics {
	return &Metrics{
		Operations: metric.NewCounterVec(metric.Metadata{
			Name:   "ddl_operations_total",
			Help:   "Number of schema changes, by kind and outcome",
			Labels: []string{"kind", "outcome"},
		}),
		Duration: metric.NewHistogram(metric.Metadata{
			Name: "ddl_duration_seconds",
			Help: "Time from admission to completion of schema changes, including lock waits",
		}),
	}
}

// Controller runs schema changes under exclusive locks.
type Controller struct {
	lm      LockManager
	metrics *Metrics
}

// NewController returns a Controller acquiring locks through lm.
func NewController(lm LockManager) *Controller {
	return &Controller{lm: lm, metrics: makeMetrics()}
}

// Metrics returns the controller's metrics.
func (c *Controller) Metrics() *Metrics { return c.metrics }

// RunDDL acquires Exclusive on every resource, together with the intents
// they imply, waiting at most until deadline; a zero deadline waits
// indefinitely. Once the locks are held it runs body and releases them. On
// a lock timeout the body is not run and the *concurrency.LockTimeoutError
// is returned. An error returned by body is returned after the release.
func (c *Controller) RunDDL(
	ctx context.Context, resources []lock.Resource, body Body, deadline time.Time,
) error {
	requester := concurrency.NewRequester(concurrency.DDL, "ddl", "")
	return c.run(ctx, requester, resources, body, deadline)
}

// Run runs op. maxTime bounds the lock wait unless op's kind ignores it
// (see Kind.Policy); zero means no bound.
func (c *Controller) Run(ctx context.Context, op Operation, maxTime time.Duration) error {
	if err := op.validate(); err != nil {
		log.Errorf(ctx, "%v", err)
		return err
	}
	ctx = logtags.AddTag(ctx, "ddl", op.Kind)

	start := timeutil.Now()
	var deadline time.Time
	switch {
	case maxTime <= 0:
	case op.Kind.Policy() == IgnoreMaxTime:
		log.VEventf(ctx, 2, "%s ignores maxTime %s", op.Kind, maxTime)
	default:
		deadline = start.Add(maxTime)
	}

	requester := concurrency.NewRequester(concurrency.DDL, op.Kind.String(), op.Session)
	err := c.run(ctx, requester, op.Resources, op.Body, deadline)

	c.metrics.Duration.RecordValue(timeutil.Since(start))
	outcome := outcomeOK
	switch {
	case err == nil:
	case concurrency.IsLockTimeout(err):
		outcome = outcomeTimeout
	default:
		outcome = outcomeError
	}
	c.metrics.Operations.Inc(1, op.Kind.String(), outcome)
	return err
}

func (c *Controller) run(
	ctx context.Context,
	requester concurrency.Requester,
	resources []lock.Resource,
	body Body,
	deadline time.Time,
) (retErr error) {
	if len(resources) == 0 {
		return errors.AssertionFailedf("schema change without resources")
	}
	targets := make([]lock.Target, len(resources))
	for i, r := range resources {
		targets[i] = lock.Target{Resource: r, Mode: lock.Exclusive}
	}
	targets = lock.Expand(targets)

	grants, err := c.lm.AcquireAll(ctx, requester, targets, deadline)
	if err != nil {
		if concurrency.IsLockTimeout(err) {
			log.VEventf(ctx, 1, "%v", err)
		}
		return err
	}
	log.VEventf(ctx, 2, "acquired %d locks", len(grants))

	held := make([]lock.Resource, len(grants))
	for i, g := range grants {
		held[i] = g.Resource
	}
	defer func() {
		retErr = errors.CombineErrors(retErr, c.lm.ReleaseAll(ctx, requester.ID, held))
	}()

	if body == nil {
		return nil
	}
	return body(ctx)
}
