// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package base

import "time"

const (
	// DefaultStatusAddr is the address the status HTTP server listens on.
	DefaultStatusAddr = "localhost:8090"

	// DefaultTxnLockTimeout bounds each lock request made by a transaction
	// statement.
	DefaultTxnLockTimeout = 5 * time.Millisecond

	// SlowRequestThreshold is the amount of time to wait before considering a
	// lock request to be "slow".
	SlowRequestThreshold = 10 * time.Second

	// DefaultMetricsPushInterval is how often metrics are pushed to Graphite
	// when an endpoint is configured.
	DefaultMetricsPushInterval = 10 * time.Second

	// DefaultShutdownTimeout bounds the graceful shutdown of the status
	// server.
	DefaultShutdownTimeout = 5 * time.Second
)
