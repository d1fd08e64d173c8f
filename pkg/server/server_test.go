// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/base"
	"github.com/cockroachdb/lockarbiter/pkg/server/status"
	"github.com/cockroachdb/lockarbiter/pkg/sql/ddl"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/testutils"
	"github.com/cockroachdb/lockarbiter/pkg/util/leaktest"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/stop"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var testColl = lock.Collection("test", "coll")

func startTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := base.DefaultConfig()
	cfg.StatusAddr = "127.0.0.1:0"
	cfg.TxnLockTimeout = 0
	s, err := NewServer(cfg, stop.NewStopper())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	return s
}

func waitForDDL(t *testing.T, s *Server, f concurrency.Filter) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testutils.DefaultSucceedsSoonDuration)
	defer cancel()
	_, err := s.LockManager().Waiters().WaitFor(ctx, f,
		func(ws []concurrency.WaiterInfo) bool { return len(ws) == 1 })
	require.NoError(t, err)
}

func TestServerTransactionsBlockDDL(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	s := startTestServer(t)
	defer func() { require.NoError(t, s.Stop(ctx)) }()

	require.NoError(t, s.BeginTransaction(ctx, "s1"))
	require.NoError(t, s.TransactionAcquire(ctx, "s1", testColl, lock.IntentExclusive))

	// The drop times out while the transaction is open.
	err := s.RunDDL(ctx, ddl.DropOp(testColl, nil), 50*time.Millisecond)
	require.True(t, concurrency.IsLockTimeout(err), "%+v", err)
	require.Empty(t, s.ListWaiters(concurrency.Filter{}))

	// With a longer maxTime, it proceeds once the transaction commits.
	var g errgroup.Group
	g.Go(func() error {
		op := ddl.DropOp(testColl, nil)
		op.Session = "s2"
		return s.RunDDL(ctx, op, 10*time.Second)
	})
	waitForDDL(t, s, concurrency.Filter{Resource: testColl, Op: "drop"})

	url := fmt.Sprintf("http://%s%s?resource=test.coll", s.StatusAddr(), status.WaitersPath)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(url)
	require.NoError(t, err)
	var waiters status.WaitersResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&waiters))
	require.NoError(t, resp.Body.Close())
	require.Len(t, waiters.Waiters, 1)
	require.Equal(t, "s2", waiters.Waiters[0].Requester.Session)
	require.True(t, waiters.Waiters[0].WaitingForLock)

	require.NoError(t, s.Commit(ctx, "s1"))
	require.NoError(t, g.Wait())
	require.Empty(t, s.ListWaiters(concurrency.Filter{Resource: testColl}))
	require.Empty(t, s.LockManager().Locks())

	require.True(t, errors.Is(s.Commit(ctx, "s1"), concurrency.ErrNoSuchTransaction))
	require.True(t, errors.Is(
		s.TransactionAcquire(ctx, "s1", testColl, lock.Shared), concurrency.ErrNoSuchTransaction))
}

// Status responses are compressed for clients that accept gzip.
func TestServerStatusCompression(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	s := startTestServer(t)
	defer func() { require.NoError(t, s.Stop(ctx)) }()

	url := fmt.Sprintf("http://%s%s", s.StatusAddr(), status.MetricsPath)
	// Setting Accept-Encoding by hand stops the transport from
	// decompressing the body transparently.
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(resp.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Contains(t, string(body), "lockarbiter_")
}

func TestServerStopFailsWaitersAndAbortsTransactions(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()
	s := startTestServer(t)

	require.NoError(t, s.BeginTransaction(ctx, "s1"))
	require.NoError(t, s.TransactionAcquire(ctx, "s1", testColl, lock.IntentExclusive))

	done := make(chan error, 1)
	go func() { done <- s.RunDDL(ctx, ddl.DropDatabaseOp(lock.DB("test"), nil), time.Millisecond) }()
	waitForDDL(t, s, concurrency.Filter{Op: "dropDatabase"})

	require.NoError(t, s.Stop(ctx))
	require.True(t, errors.Is(<-done, concurrency.ErrQuiescing))
	require.Empty(t, s.LockManager().Locks())
	require.True(t, errors.Is(s.BeginTransaction(ctx, "s3"), stop.ErrUnavailable))
}

func TestServerInvalidConfig(t *testing.T) {
	defer leaktest.AfterTest(t)()
	cfg := base.DefaultConfig()
	cfg.TxnLockTimeout = -time.Second
	_, err := NewServer(cfg, stop.NewStopper())
	require.ErrorContains(t, err, "invalid configuration")
}
