// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/testutils"
	"github.com/cockroachdb/lockarbiter/pkg/util/leaktest"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/metric"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, ts *httptest.Server, path string) (int, string) {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestStatusEndpoints(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)
	ctx := context.Background()

	m := concurrency.NewManager(concurrency.Config{})
	reg := metric.NewRegistry()
	reg.AddMetricStruct(m.Metrics())
	ts := httptest.NewServer(NewServer(m, reg))
	defer ts.Close()

	coll := lock.Collection("test", "coll")
	holder := concurrency.NewRequester(concurrency.Transaction, "insert", "txn")
	_, err := m.AcquireAll(ctx, holder,
		lock.Expand([]lock.Target{{Resource: coll, Mode: lock.IntentExclusive}}), time.Time{})
	require.NoError(t, err)

	ddl := concurrency.NewRequester(concurrency.DDL, "drop", "s2")
	waitCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(waitCtx, concurrency.Request{Requester: ddl, Resource: coll, Mode: lock.Exclusive})
		done <- err
	}()
	testutils.SucceedsSoon(t, func() error {
		if m.Waiters().Len() != 1 {
			return errors.New("drop is not queued yet")
		}
		return nil
	})

	code, body := get(t, ts, WaitersPath+"?resource=test.coll&op=drop")
	require.Equal(t, http.StatusOK, code)
	var waiters WaitersResponse
	require.NoError(t, json.Unmarshal([]byte(body), &waiters))
	require.Len(t, waiters.Waiters, 1)
	require.True(t, waiters.Waiters[0].WaitingForLock)
	require.Equal(t, coll, waiters.Waiters[0].Resource)
	require.Equal(t, lock.Exclusive, waiters.Waiters[0].Mode)
	require.Equal(t, "s2", waiters.Waiters[0].Requester.Session)

	_, body = get(t, ts, WaitersPath+"?op=insert")
	require.JSONEq(t, `{"waiters": []}`, body)

	code, _ = get(t, ts, WaitersPath+"?resource=.coll")
	require.Equal(t, http.StatusBadRequest, code)

	code, body = get(t, ts, LocksPath)
	require.Equal(t, http.StatusOK, code)
	var locks LocksResponse
	require.NoError(t, json.Unmarshal([]byte(body), &locks))
	require.Len(t, locks.Locks, 2)
	require.Equal(t, coll, locks.Locks[1].Resource)
	require.Len(t, locks.Locks[1].Waiters, 1)

	_, body = get(t, ts, LocksPath+"?format=text")
	require.Equal(t, m.String(), body)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.NoError(t, m.ReleaseAll(ctx, holder.ID, []lock.Resource{coll.Parent(), coll}))

	code, body = get(t, ts, MetricsPath)
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "lockarbiter_lock_cancellations_total 1")
	require.Contains(t, body, "lockarbiter_lock_releases_total 2")

	code, _ = get(t, ts, "/_status/unknown")
	require.Equal(t, http.StatusNotFound, code)
}
