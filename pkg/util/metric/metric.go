// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Namespace prefixes the name of every metric.
const Namespace = "lockarbiter"

// Metadata holds the name and description of a metric.
type Metadata struct {
	Name string
	Help string
	// Labels, if set, turns the metric into a vector partitioned by them.
	Labels []string
}

func (m Metadata) opts() prometheus.Opts {
	return prometheus.Opts{Namespace: Namespace, Name: m.Name, Help: m.Help}
}

// Iterable is implemented by every metric in this package so that a
// Registry can register them.
type Iterable interface {
	collector() prometheus.Collector
	GetName() string
}

// Counter is a monotonically increasing count.
type Counter struct {
	Metadata
	c prometheus.Counter
}

// NewCounter creates a Counter.
func NewCounter(metadata Metadata) *Counter {
	return &Counter{Metadata: metadata, c: prometheus.NewCounter(prometheus.CounterOpts(metadata.opts()))}
}

// Inc increments the counter by v.
func (c *Counter) Inc(v int64) { c.c.Add(float64(v)) }

// Count returns the current value.
func (c *Counter) Count() int64 {
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// GetName returns the metric's name.
func (c *Counter) GetName() string { return c.Name }
func (c *Counter) collector() prometheus.Collector { return c.c }

// Gauge is a value that can go up and down.
type Gauge struct {
	Metadata
	g prometheus.Gauge
}

// NewGauge creates a Gauge.
func NewGauge(metadata Metadata) *Gauge {
	return &Gauge{Metadata: metadata, g: prometheus.NewGauge(prometheus.GaugeOpts(metadata.opts()))}
}

// Update sets the gauge to v.
func (g *Gauge) Update(v int64) { g.g.Set(float64(v)) }

// Inc adds v, which may be negative, to the gauge.
func (g *Gauge) Inc(v int64) { g.g.Add(float64(v)) }

// Dec subtracts v from the gauge.
func (g *Gauge) Dec(v int64) { g.g.Sub(float64(v)) }

// Value returns the current value.
func (g *Gauge) Value() int64 {
	var m dto.Metric
	if err := g.g.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetGauge().GetValue())
}

// GetName returns the metric's name.
func (g *Gauge) GetName() string { return g.Name }
func (g *Gauge) collector() prometheus.Collector { return g.g }

// LatencyBuckets are the histogram buckets, in seconds, used for lock wait
// durations. They span 100µs to roughly 100s.
var LatencyBuckets = prometheus.ExponentialBuckets(1e-4, 4, 11)

// Histogram records a distribution of durations.
type Histogram struct {
	Metadata
	h prometheus.Histogram
}

// NewHistogram creates a Histogram with LatencyBuckets.
func NewHistogram(metadata Metadata) *Histogram {
	o := metadata.opts()
	return &Histogram{Metadata: metadata, h: prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: o.Namespace,
		Name:      o.Name,
		Help:      o.Help,
		Buckets:   LatencyBuckets,
	})}
}

// RecordValue adds d to the distribution.
func (h *Histogram) RecordValue(d time.Duration) { h.h.Observe(d.Seconds()) }

// TotalCount returns the number of recorded values.
func (h *Histogram) TotalCount() uint64 {
	var m dto.Metric
	if err := h.h.Write(&m); err != nil {
		return 0
	}
	return m.GetHistogram().GetSampleCount()
}

// GetName returns the metric's name.
func (h *Histogram) GetName() string { return h.Name }
func (h *Histogram) collector() prometheus.Collector { return h.h }

// CounterVec is a family of counters partitioned by Metadata.Labels.
type CounterVec struct {
	Metadata
	v *prometheus.CounterVec
}

// NewCounterVec creates a CounterVec.
func NewCounterVec(metadata Metadata) *CounterVec {
	return &CounterVec{
		Metadata: metadata,
		v:        prometheus.NewCounterVec(prometheus.CounterOpts(metadata.opts()), metadata.Labels),
	}
}

// Inc increments the child counter identified by labelValues by v.
func (c *CounterVec) Inc(v int64, labelValues ...string) {
	c.v.WithLabelValues(labelValues...).Add(float64(v))
}

// Count returns the value of the child identified by labelValues.
func (c *CounterVec) Count(labelValues ...string) int64 {
	var m dto.Metric
	if err := c.v.WithLabelValues(labelValues...).Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// GetName returns the metric's name.
func (c *CounterVec) GetName() string { return c.Name }
func (c *CounterVec) collector() prometheus.Collector { return c.v }
