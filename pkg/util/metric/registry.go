// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"io"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
)

// A Registry is a set of metrics that can be gathered together and exposed
// to prometheus.
type Registry struct {
	reg *prometheus.Registry
}

// NewRegistry creates a new Registry.
func NewRegistry() *Registry {
	return &Registry{reg: prometheus.NewRegistry()}
}

// AddProcessCollectors registers the Go runtime and process collectors.
func (r *Registry) AddProcessCollectors() {
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// AddMetric adds the passed-in metric to the registry. It panics if a metric
// with the same name was already added.
func (r *Registry) AddMetric(metric Iterable) {
	r.reg.MustRegister(metric.collector())
}

// AddMetricStruct examines all fields of metricStruct and adds
// every Iterable field, recursing into nested metric structs.
func (r *Registry) AddMetricStruct(metricStruct interface{}) {
	v := reflect.Indirect(reflect.ValueOf(metricStruct))
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		vfield, tfield := v.Field(i), t.Field(i)
		if !vfield.CanInterface() {
			continue
		}
		switch f := vfield.Interface().(type) {
		case Iterable:
			if vfield.Kind() == reflect.Ptr && vfield.IsNil() {
				panic(errors.AssertionFailedf("metric field %s is nil", tfield.Name))
			}
			r.AddMetric(f)
		default:
			if vfield.Kind() == reflect.Struct {
				r.AddMetricStruct(vfield.Interface())
			}
		}
	}
}

// Gatherer returns the prometheus.Gatherer for the registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WritePrometheusMetrics writes all metrics in the registry to w in the
// prometheus text exposition format.
func (r *Registry) WritePrometheusMetrics(w io.Writer) error {
	families, err := r.reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return errors.Wrapf(err, "encoding %s", mf.GetName())
		}
	}
	return nil
}
