// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package server assembles the lock arbiter: the lock manager, the
// transaction registry, the DDL controller and the status endpoints, and
// exposes the command boundary used by the execution layer.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/base"
	"github.com/cockroachdb/lockarbiter/pkg/kv/txn"
	"github.com/cockroachdb/lockarbiter/pkg/server/status"
	"github.com/cockroachdb/lockarbiter/pkg/sql/ddl"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/metric"
	"github.com/cockroachdb/lockarbiter/pkg/util/stop"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/cockroachdb/logtags"
)

// Server is the lock arbiter.
type Server struct {
	cfg      base.Config
	stopper  *stop.Stopper
	lm       *concurrency.Manager
	txns     *txn.Registry
	ddl      *ddl.Controller
	registry *metric.Registry
	status   *status.Server

	mu struct {
		syncutil.Mutex
		// statusAddr is the address the status server listens on, once
		// started.
		statusAddr net.Addr
	}
}

// NewServer creates a Server. It does not start serving until Start is
// called; the command boundary is usable immediately.
func NewServer(cfg base.Config, stopper *stop.Stopper) (*Server, error) {
	if err := cfg.Validate(""); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	lm := concurrency.NewManager(concurrency.Config{
		Stopper:           stopper,
		SlowWaitThreshold: cfg.SlowWaitThreshold,
	})
	s := &Server{
		cfg:      cfg,
		stopper:  stopper,
		lm:       lm,
		txns:     txn.NewRegistry(lm, cfg.TxnLockTimeout),
		ddl:      ddl.NewController(lm),
		registry: metric.NewRegistry(),
	}
	s.registry.AddMetricStruct(lm.Metrics())
	s.registry.AddMetricStruct(s.ddl.Metrics())
	s.status = status.NewServer(lm, s.registry)
	return s, nil
}

// LockManager returns the server's lock manager.
func (s *Server) LockManager() *concurrency.Manager { return s.lm }

// Registry returns the server's metric registry.
func (s *Server) Registry() *metric.Registry { return s.registry }

// StatusAddr returns the address of the status server, or nil if it is not
// running.
func (s *Server) StatusAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.statusAddr
}

func sessionCtx(ctx context.Context, session string) context.Context {
	return logtags.AddTag(ctx, "session", session)
}

// runTask runs f as a stopper task, so that Stop waits for it and requests
// arriving after shutdown began are rejected.
func (s *Server) runTask(ctx context.Context, name string, f func(context.Context) error) error {
	var err error
	if stopErr := s.stopper.RunTask(ctx, name, func(ctx context.Context) {
		err = f(ctx)
	}); stopErr != nil {
		return stopErr
	}
	return err
}

// BeginTransaction opens a transaction for session.
func (s *Server) BeginTransaction(ctx context.Context, session string) error {
	return s.runTask(sessionCtx(ctx, session), "begin", func(ctx context.Context) error {
		_, err := s.txns.Begin(session)
		if err == nil {
			log.VEventf(ctx, 2, "began transaction")
		}
		return err
	})
}

// TransactionAcquire acquires res in mode for session's open transaction.
// The wait is bounded by the configured transaction lock timeout.
func (s *Server) TransactionAcquire(
	ctx context.Context, session string, res lock.Resource, mode lock.Mode,
) error {
	return s.runTask(sessionCtx(ctx, session), "txn-acquire", func(ctx context.Context) error {
		t, err := s.txns.Get(session)
		if err != nil {
			return err
		}
		return t.Acquire(ctx, res, mode)
	})
}

// Commit commits session's open transaction and releases its locks.
func (s *Server) Commit(ctx context.Context, session string) error {
	return s.runTask(sessionCtx(ctx, session), "commit", func(ctx context.Context) error {
		return s.txns.Commit(ctx, session)
	})
}

// Abort aborts session's open transaction and releases its locks.
func (s *Server) Abort(ctx context.Context, session string) error {
	return s.runTask(sessionCtx(ctx, session), "abort", func(ctx context.Context) error {
		return s.txns.Abort(ctx, session)
	})
}

// RunDDL runs a schema change. See ddl.Controller.Run for the meaning of
// maxTime.
func (s *Server) RunDDL(ctx context.Context, op ddl.Operation, maxTime time.Duration) error {
	if op.Session != "" {
		ctx = sessionCtx(ctx, op.Session)
	}
	return s.runTask(ctx, op.Kind.String(), func(ctx context.Context) error {
		return s.ddl.Run(ctx, op, maxTime)
	})
}

// ListWaiters returns the pending lock requests matching f, in the order
// they were enqueued.
func (s *Server) ListWaiters(f concurrency.Filter) []concurrency.WaiterInfo {
	return s.lm.Waiters().Snapshot(f)
}

// Start starts the status server and, if configured, the metrics push to
// Graphite. Both stop when the stopper quiesces.
func (s *Server) Start(ctx context.Context) error {
	ctx = logtags.AddTag(ctx, "server", nil)
	if s.cfg.StatusAddr != "" {
		if err := s.startStatusServer(ctx); err != nil {
			return err
		}
	}
	if s.cfg.GraphiteEndpoint != "" {
		if err := s.startGraphitePush(ctx); err != nil {
			return err
		}
	}
	log.Infof(ctx, "lock arbiter started")
	return nil
}

func (s *Server) startStatusServer(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.StatusAddr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", s.cfg.StatusAddr)
	}
	s.mu.Lock()
	s.mu.statusAddr = ln.Addr()
	s.mu.Unlock()

	srv := &http.Server{
		Handler:           gziphandler.GzipHandler(s.status),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.NewStdLogger(log.SeverityWarning, "status"),
	}
	if err := s.stopper.RunAsyncTask(ctx, "status-server", func(ctx context.Context) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf(ctx, "status server: %v", err)
		}
	}); err != nil {
		_ = ln.Close()
		return err
	}
	log.Infof(ctx, "status server listening on %s", ln.Addr())
	return s.stopper.RunAsyncTask(ctx, "status-server-shutdown", func(ctx context.Context) {
		<-s.stopper.ShouldQuiesce()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf(ctx, "status server shutdown: %v", err)
		}
	})
}

func (s *Server) startGraphitePush(ctx context.Context) error {
	exporter := metric.MakeGraphiteExporter(s.registry)
	pushErrEvery := log.Every(time.Minute)
	return s.stopper.RunAsyncTask(ctx, "graphite-push", func(ctx context.Context) {
		var timer timeutil.Timer
		defer timer.Stop()
		for {
			timer.Reset(s.cfg.GraphiteInterval)
			select {
			case <-timer.C:
				timer.Read = true
				if err := exporter.Push(ctx, s.cfg.GraphiteEndpoint); err != nil && pushErrEvery.ShouldLog() {
					log.Warningf(ctx, "error pushing metrics to graphite: %v", err)
				}
			case <-s.stopper.ShouldQuiesce():
				return
			}
		}
	})
}

// Stop shuts the server down. Requests waiting for locks fail with
// concurrency.ErrQuiescing, open transactions are aborted and the
// stopper's tasks and closers are run.
func (s *Server) Stop(ctx context.Context) error {
	s.stopper.Quiesce(ctx)
	err := s.txns.AbortAll(ctx)
	s.stopper.Stop(ctx)
	if err != nil {
		log.Warningf(ctx, "aborting open transactions: %v", err)
	}
	return err
}
