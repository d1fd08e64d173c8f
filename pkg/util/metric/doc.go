// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

/*
Package metric provides the arbiter's metrics. They are backed by the
prometheus client library, exposed on the /metrics endpoint of the status
server and optionally pushed to a Graphite or Carbon server.

# Adding a new metric

Declare the metric in a struct of metrics and create it with one of the
constructors in this package:

	type Metrics struct {
		LockWaits *metric.Counter
	}

	m := Metrics{
		LockWaits: metric.NewCounter(metric.Metadata{
			Name: "lock_waits_total",
			Help: "Number of lock requests that had to wait",
		}),
	}

Then register every field of the struct at once:

	registry.AddMetricStruct(m)

# Testing

Tests read the current value of a metric with its Count or Value method, or
dump the whole registry in the prometheus text format with
WritePrometheusMetrics.
*/
package metric
