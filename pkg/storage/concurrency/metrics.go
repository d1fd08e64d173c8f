// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package concurrency

import "github.com/cockroachdb/lockarbiter/pkg/util/metric"

// Outcomes recorded by Metrics.Acquisitions.
const (
	outcomeImmediate = "immediate"
	outcomeWaited    = "waited"
)

// Metrics are the lock manager's metrics. Register them with
// metric.Registry.AddMetricStruct.
type Metrics struct {
	Acquisitions  *metric.CounterVec
	Timeouts      *metric.Counter
	Cancellations *metric.Counter
	Releases      *metric.Counter
	WaitDuration  *metric.Histogram
	Waiting       *metric.Gauge
	SlowWaiting   *metric.Gauge
}

func makeMetrics() *Metrics {
	return &Metrics{
		Acquisitions: metric.NewCounterVec(metric.Metadata{
			Name:   "lock_acquisitions_total",
			Help:   "Number of granted lock requests, by mode and by whether they had to wait",
			Labels: []string{"mode", "outcome"},
		}),
		Timeouts: metric.NewCounter(metric.Metadata{
			Name: "lock_timeouts_total",
			Help: "Number of lock requests whose deadline elapsed before they were granted",
		}),
		Cancellations: metric.NewCounter(metric.Metadata{
			Name: "lock_cancellations_total",
			Help: "Number of lock requests abandoned because their context was canceled or the manager stopped",
		}),
		Releases: metric.NewCounter(metric.Metadata{
			Name: "lock_releases_total",
			Help: "Number of locks released",
		}),
		WaitDuration: metric.NewHistogram(metric.Metadata{
			Name: "lock_wait_duration_seconds",
			Help: "Time spent by lock requests in a wait queue, regardless of outcome",
		}),
		Waiting: metric.NewGauge(metric.Metadata{
			Name: "lock_waiters",
			Help: "Number of lock requests currently waiting",
		}),
		SlowWaiting: metric.NewGauge(metric.Metadata{
			Name: "lock_slow_waiters",
			Help: "Number of lock requests that have been waiting longer than the slow wait threshold",
		}),
	}
}
