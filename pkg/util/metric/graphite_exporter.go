// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package metric

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/prometheus/client_golang/prometheus/graphite"
)

var errNoEndpoint = errors.New("graphite endpoint is not set")

// GraphiteExporter scrapes a Registry for metrics and pushes them to a
// Graphite or Carbon server.
type GraphiteExporter struct {
	reg *Registry
}

// MakeGraphiteExporter returns an initialized graphite exporter.
func MakeGraphiteExporter(reg *Registry) GraphiteExporter {
	return GraphiteExporter{reg: reg}
}

type loggerFunc func(...interface{})

// Println implements graphite.Logger.
func (lf loggerFunc) Println(v ...interface{}) {
	lf(v...)
}

// Push metrics scraped from registry to Graphite or Carbon server.
// It converts the same metrics that are pulled by Prometheus into Graphite-format.
func (ge *GraphiteExporter) Push(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return errNoEndpoint
	}
	h, err := os.Hostname()
	if err != nil {
		return err
	}
	b, err := graphite.NewBridge(&graphite.Config{
		URL:           endpoint,
		Gatherer:      ge.reg.Gatherer(),
		Prefix:        fmt.Sprintf("%s.%s", h, Namespace),
		Timeout:       10 * time.Second,
		ErrorHandling: graphite.AbortOnError,
		Logger: loggerFunc(func(args ...interface{}) {
			log.InfofDepth(ctx, 1, "", args...)
		}),
	})
	if err != nil {
		return err
	}
	return b.Push()
}
