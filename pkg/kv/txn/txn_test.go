// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package txn

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/leaktest"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	testDB   = lock.DB("test")
	testColl = lock.Collection("test", "coll")
	otherDB  = lock.DB("other")
	otherCol = lock.Collection("other", "coll")
)

func TestContextAcquireRecordsHierarchy(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})
	c := NewContext("s1", m, 0)

	require.NoError(t, c.Acquire(ctx, testColl, lock.IntentExclusive))
	require.NoError(t, c.Acquire(ctx, otherCol, lock.Shared))

	var got []lock.Target
	for _, g := range c.Grants() {
		got = append(got, g.Target())
	}
	require.Equal(t, []lock.Target{
		{Resource: otherDB, Mode: lock.Shared},
		{Resource: otherCol, Mode: lock.Shared},
		{Resource: testDB, Mode: lock.IntentExclusive},
		{Resource: testColl, Mode: lock.IntentExclusive},
	}, got)
	require.True(t, m.IsHeld(c.ID(), testColl, lock.IntentExclusive))
	require.True(t, m.IsHeld(c.ID(), testDB, lock.IntentExclusive))
}

func TestContextRecordGrantIsIdempotent(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})
	c := NewContext("s1", m, 0)

	// Acquiring the same lock twice, and then a weaker one, keeps a single
	// grant in the strongest mode.
	require.NoError(t, c.Acquire(ctx, testColl, lock.IntentExclusive))
	require.NoError(t, c.Acquire(ctx, testColl, lock.IntentExclusive))
	require.NoError(t, c.Acquire(ctx, testColl, lock.Shared))
	require.Len(t, c.Grants(), 2)
	for _, g := range c.Grants() {
		require.Equal(t, lock.IntentExclusive, g.Mode)
	}

	require.NoError(t, c.RecordGrant(concurrency.Grant{Requester: c.ID(), Resource: testColl, Mode: lock.Shared}))
	require.Len(t, c.Grants(), 2)

	err := c.RecordGrant(concurrency.Grant{Resource: testColl, Mode: lock.Shared})
	require.True(t, errors.HasAssertionFailure(err))

	// Commit releases each lock exactly once.
	require.NoError(t, c.Commit(ctx))
	require.Empty(t, m.Locks())
}

func TestContextFinishReleasesEverything(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})
	c := NewContext("s1", m, 0)

	require.NoError(t, c.Acquire(ctx, testColl, lock.IntentExclusive))
	require.NoError(t, c.Acquire(ctx, otherCol, lock.IntentExclusive))
	require.NoError(t, c.Abort(ctx))

	require.Equal(t, Aborted, c.Status())
	require.Empty(t, c.Grants())
	require.Empty(t, m.Locks())
	for _, res := range []lock.Resource{testDB, testColl, otherDB, otherCol} {
		require.Empty(t, m.Holders(res))
	}
}

func TestContextFinishTwiceIsInvalidState(t *testing.T) {
	defer leaktest.AfterTest(t)()
	sc := log.Scope(t)
	defer sc.Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})
	c := NewContext("s1", m, 0)

	require.NoError(t, c.Commit(ctx))
	err := c.Abort(ctx)
	require.True(t, errors.Is(err, concurrency.ErrInvalidState), "%+v", err)
	require.True(t, errors.HasAssertionFailure(err))
	require.Equal(t, Committed, c.Status())

	err = c.Acquire(ctx, testColl, lock.Shared)
	require.True(t, errors.Is(err, concurrency.ErrInvalidState), "%+v", err)
	require.Empty(t, m.Locks())
	require.True(t, sc.Contains(log.SeverityError, "already COMMITTED"))

	err = c.Finish(ctx, Pending)
	require.True(t, errors.HasAssertionFailure(err))
}

// A statement whose lock request times out leaves the transaction open with
// the grants it held before.
func TestContextAcquireRejectsInvalidMode(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})
	c := NewContext("s1", m, 0)

	for _, mode := range []lock.Mode{lock.None, lock.MaxMode + 1} {
		err := c.Acquire(ctx, testColl, mode)
		require.True(t, errors.HasAssertionFailure(err), "%v", err)
	}
	require.Empty(t, c.Grants())
	require.Empty(t, m.Holders(testDB))
	require.Equal(t, Pending, c.Status())
	require.NoError(t, c.Commit(ctx))
}

func TestContextAcquireTimeoutKeepsPriorGrants(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})

	ddl := concurrency.NewRequester(concurrency.DDL, "drop", "")
	_, err := m.AcquireAll(ctx, ddl,
		lock.Expand([]lock.Target{{Resource: otherCol, Mode: lock.Exclusive}}), time.Time{})
	require.NoError(t, err)

	c := NewContext("s1", m, 20*time.Millisecond)
	require.NoError(t, c.Acquire(ctx, testColl, lock.IntentExclusive))
	err = c.Acquire(ctx, otherCol, lock.IntentExclusive)
	require.True(t, concurrency.IsLockTimeout(err), "%+v", err)

	require.True(t, c.IsOpen())
	require.Len(t, c.Grants(), 2)
	require.Equal(t, lock.None, m.HeldMode(c.ID(), otherDB))

	require.NoError(t, c.Abort(ctx))
	require.NoError(t, m.ReleaseAll(ctx, ddl.ID, []lock.Resource{otherDB, otherCol}))
	require.Empty(t, m.Locks())
}

func TestRegistry(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	m := concurrency.NewManager(concurrency.Config{})
	r := NewRegistry(m, 0)

	a, err := r.Begin("a")
	require.NoError(t, err)
	_, err = r.Begin("b")
	require.NoError(t, err)
	_, err = r.Begin("a")
	require.True(t, errors.Is(err, concurrency.ErrInvalidState), "%+v", err)

	got, err := r.Get("a")
	require.NoError(t, err)
	require.Same(t, a, got)
	_, err = r.Get("c")
	require.True(t, errors.Is(err, concurrency.ErrNoSuchTransaction))

	require.NoError(t, a.Acquire(ctx, testColl, lock.IntentExclusive))
	require.Len(t, r.Active(), 2)
	require.Equal(t, "a", r.Active()[0].Session())

	require.NoError(t, r.Commit(ctx, "a"))
	require.Equal(t, Committed, a.Status())
	require.Empty(t, m.Holders(testColl))
	require.True(t, errors.Is(r.Commit(ctx, "a"), concurrency.ErrNoSuchTransaction))

	// The session can start a new transaction once the previous one is done.
	_, err = r.Begin("a")
	require.NoError(t, err)

	require.NoError(t, r.AbortAll(ctx))
	require.Empty(t, r.Active())
}

func TestContextFinishReportsReleaseFailure(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	lm := NewMockLockManager(ctrl)
	c := NewContext("s1", lm, 0)

	targets := lock.Expand([]lock.Target{{Resource: testColl, Mode: lock.IntentExclusive}})
	lm.EXPECT().AcquireAll(gomock.Any(), gomock.Any(), targets, time.Time{}).Return([]concurrency.Grant{
		{Requester: c.ID(), Resource: testDB, Mode: lock.IntentExclusive},
		{Requester: c.ID(), Resource: testColl, Mode: lock.IntentExclusive},
	}, nil)
	require.NoError(t, c.Acquire(ctx, testColl, lock.IntentExclusive))

	releaseErr := errors.New("release failed")
	lm.EXPECT().ReleaseAll(gomock.Any(), c.ID(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ uuid.UUID, resources []lock.Resource) error {
			require.ElementsMatch(t, []lock.Resource{testDB, testColl}, resources)
			return releaseErr
		})
	require.ErrorIs(t, c.Commit(ctx), releaseErr)

	// The transaction is committed regardless and holds nothing, so a retry
	// cannot release the locks a second time.
	require.Equal(t, Committed, c.Status())
	require.Empty(t, c.Grants())
	require.True(t, errors.Is(c.Commit(ctx), concurrency.ErrInvalidState))
}

// Locks granted to a statement of a transaction that finished while the
// statement waited are released rather than recorded.
func TestContextAcquireAfterConcurrentFinish(t *testing.T) {
	defer leaktest.AfterTest(t)()
	sc := log.Scope(t)
	defer sc.Close(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	lm := NewMockLockManager(ctrl)
	c := NewContext("s1", lm, time.Second)

	grants := []concurrency.Grant{
		{Requester: c.ID(), Resource: testDB, Mode: lock.Shared},
		{Requester: c.ID(), Resource: testColl, Mode: lock.Shared},
	}
	lm.EXPECT().AcquireAll(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(
			ctx context.Context, _ concurrency.Requester, _ []lock.Target, deadline time.Time,
		) ([]concurrency.Grant, error) {
			require.False(t, deadline.IsZero())
			require.NoError(t, c.Abort(ctx))
			return grants, nil
		})
	lm.EXPECT().ReleaseAll(gomock.Any(), c.ID(), []lock.Resource{testDB, testColl}).Return(nil)

	err := c.Acquire(ctx, testColl, lock.Shared)
	require.True(t, errors.Is(err, concurrency.ErrInvalidState), "%v", err)
	require.True(t, sc.Contains(log.SeverityError, "ABORTED while acquiring"))
	require.Empty(t, c.Grants())
}
