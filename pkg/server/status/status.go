// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package status serves the introspection endpoints of the lock arbiter:
// pending lock requests, the lock table and metrics.
package status

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/metric"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// WaitersPath lists pending lock requests.
	WaitersPath = "/_status/waiters"
	// LocksPath dumps the lock table.
	LocksPath = "/_status/locks"
	// MetricsPath exposes metrics in the prometheus format.
	MetricsPath = "/metrics"
)

// LockView is the part of concurrency.Manager the endpoints read from.
type LockView interface {
	Locks() []concurrency.LockStateInfo
	Waiters() *concurrency.WaiterRegistry
	String() string
}

var _ LockView = (*concurrency.Manager)(nil)

// Server implements the status endpoints.
type Server struct {
	locks LockView
	reg   *metric.Registry
	mux   *mux.Router
}

// NewServer returns a Server reporting on locks and reg.
func NewServer(locks LockView, reg *metric.Registry) *Server {
	s := &Server{locks: locks, reg: reg, mux: mux.NewRouter()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	routeDefinitions := []struct {
		endpoint string
		handler  http.Handler
	}{
		{WaitersPath, http.HandlerFunc(s.listWaiters)},
		{LocksPath, http.HandlerFunc(s.listLocks)},
		{MetricsPath, promhttp.HandlerFor(s.reg.Gatherer(), promhttp.HandlerOpts{
			ErrorLog:           log.NewStdLogger(log.SeverityError, "metrics"),
			ErrorHandling:      promhttp.ContinueOnError,
			// Responses are compressed by the enclosing server.
			DisableCompression: true,
		})},
	}
	for _, route := range routeDefinitions {
		s.mux.Handle(route.endpoint, route.handler).Methods(http.MethodGet)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSONResponse(ctx context.Context, w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	res, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(res); err != nil {
		log.Warningf(ctx, "writing status response: %v", err)
	}
}

// WaitersResponse is the body of a WaitersPath response.
type WaitersResponse struct {
	Waiters []concurrency.WaiterInfo `json:"waiters"`
}

// FilterFromQuery builds a waiter filter from the resource, op and session
// query parameters.
func FilterFromQuery(r *http.Request) (concurrency.Filter, error) {
	q := r.URL.Query()
	f := concurrency.Filter{Op: q.Get("op"), Session: q.Get("session")}
	if s := q.Get("resource"); s != "" {
		res, err := lock.ParseResource(s)
		if err != nil {
			return concurrency.Filter{}, err
		}
		f.Resource = res
	}
	return f, nil
}

func (s *Server) listWaiters(w http.ResponseWriter, r *http.Request) {
	f, err := FilterFromQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp := WaitersResponse{Waiters: s.locks.Waiters().Snapshot(f)}
	if resp.Waiters == nil {
		resp.Waiters = []concurrency.WaiterInfo{}
	}
	writeJSONResponse(r.Context(), w, http.StatusOK, resp)
}

// LocksResponse is the body of a LocksPath response.
type LocksResponse struct {
	Locks []concurrency.LockStateInfo `json:"locks"`
}

func (s *Server) listLocks(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(s.locks.String()))
		return
	}
	resp := LocksResponse{Locks: s.locks.Locks()}
	if resp.Locks == nil {
		resp.Locks = []concurrency.LockStateInfo{}
	}
	writeJSONResponse(r.Context(), w, http.StatusOK, resp)
}
