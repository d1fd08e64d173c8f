// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stop coordinates the orderly shutdown of a process's background
// work.
package stop

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/cockroachdb/logtags"
)

// ErrUnavailable indicates that the Stopper is quiescing and no new tasks
// may be started.
var ErrUnavailable = errors.New("stopper is quiescing")

// Closer is an interface for objects to attach to the stopper to
// be closed once the stopper completes.
type Closer interface {
	Close()
}

// CloserFn is type that allows any function to be a Closer.
type CloserFn func()

// Close implements the Closer interface.
func (f CloserFn) Close() {
	f()
}

// TaskOpts groups the options for RunAsyncTaskEx.
type TaskOpts struct {
	// TaskName is used to identify the task in logs and in RunningTasks.
	TaskName string
	// TagTaskName, when true, attaches the task name to the context as a log tag.
	TagTaskName bool
}

// A Stopper provides control over the lifecycle of goroutines started
// through it via its RunTask and RunAsyncTask methods.
//
// When Stop is invoked, the Stopper
//
//   - closes the ShouldQuiesce channel, which tasks are expected
//     to observe in order to wind down;
//   - refuses new tasks, returning ErrUnavailable;
//   - waits for all running tasks to return;
//   - runs the registered closers in reverse order of registration;
//   - closes the IsStopped channel.
type Stopper struct {
	quiescer chan struct{}
	stopped  chan struct{}
	tasks    sync.WaitGroup

	mu struct {
		syncutil.Mutex
		quiescing    bool
		stopping     bool
		running      map[string]int
		closers      []Closer
		nextCancelID int
		qCancels     map[int]context.CancelFunc
	}
}

// NewStopper returns an instance of Stopper.
func NewStopper() *Stopper {
	s := &Stopper{
		quiescer: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	s.mu.running = make(map[string]int)
	s.mu.qCancels = make(map[int]context.CancelFunc)
	return s
}

// AddCloser adds an object to close after the stopper has been stopped.
// If the stopper is already stopping, c is closed immediately.
func (s *Stopper) AddCloser(c Closer) {
	s.mu.Lock()
	if s.mu.stopping {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.mu.closers = append(s.mu.closers, c)
	s.mu.Unlock()
}

// WithCancelOnQuiesce returns a child context which is canceled when the
// returned cancel function is called or when the Stopper begins to quiesce,
// whichever happens first.
func (s *Stopper) WithCancelOnQuiesce(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.quiescing {
		cancel()
		return ctx, func() {}
	}
	id := s.mu.nextCancelID
	s.mu.nextCancelID++
	s.mu.qCancels[id] = cancel
	return ctx, func() {
		cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.mu.qCancels, id)
	}
}

// RunTask adds one to the count of tasks left to quiesce in the system.
// Any worker which is a "first mover" when starting tasks must call this
// method before starting work on a new task. First movers include goroutines
// servicing requests which were not initiated by a task.
//
// f is run synchronously. ErrUnavailable is returned if the Stopper is
// quiescing.
func (s *Stopper) RunTask(ctx context.Context, taskName string, f func(context.Context)) error {
	if !s.runPrelude(taskName) {
		return ErrUnavailable
	}
	defer s.runPostlude(taskName)
	f(ctx)
	return nil
}

// RunAsyncTask is like RunTask, except the callback is run in a goroutine.
// The method doesn't block for the callback to finish execution.
func (s *Stopper) RunAsyncTask(ctx context.Context, taskName string, f func(context.Context)) error {
	return s.RunAsyncTaskEx(ctx, TaskOpts{TaskName: taskName}, f)
}

// RunAsyncTaskEx is like RunAsyncTask, except it takes options.
func (s *Stopper) RunAsyncTaskEx(ctx context.Context, opt TaskOpts, f func(context.Context)) error {
	taskName := opt.TaskName
	if !s.runPrelude(taskName) {
		return ErrUnavailable
	}
	if opt.TagTaskName {
		ctx = logtags.AddTag(ctx, "task", taskName)
	}
	go func() {
		defer s.runPostlude(taskName)
		f(ctx)
	}()
	return nil
}

func (s *Stopper) runPrelude(taskName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.quiescing {
		return false
	}
	s.mu.running[taskName]++
	s.tasks.Add(1)
	return true
}

func (s *Stopper) runPostlude(taskName string) {
	s.mu.Lock()
	if s.mu.running[taskName]--; s.mu.running[taskName] == 0 {
		delete(s.mu.running, taskName)
	}
	s.mu.Unlock()
	s.tasks.Done()
}

// NumTasks returns the number of active tasks.
func (s *Stopper) NumTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.mu.running {
		n += c
	}
	return n
}

// RunningTasks returns a description of the active tasks, one line per task
// name, sorted.
func (s *Stopper) RunningTasks() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.mu.running))
	for name := range s.mu.running {
		names = append(names, name)
	}
	sort.Strings(names)
	var sb strings.Builder
	for _, name := range names {
		fmt.Fprintf(&sb, "%-6d %s\n", s.mu.running[name], name)
	}
	return sb.String()
}

// ShouldQuiesce returns a channel which will be closed when Stop() has been
// invoked and outstanding tasks should begin to quiesce.
func (s *Stopper) ShouldQuiesce() <-chan struct{} {
	return s.quiescer
}

// IsStopped returns a channel which will be closed after Stop() has
// been invoked to full completion, meaning all workers have completed
// and all closers have been closed.
func (s *Stopper) IsStopped() <-chan struct{} {
	return s.stopped
}

// Quiesce moves the stopper to state quiescing and waits until all
// tasks complete. This is used from Stop() and unittests.
func (s *Stopper) Quiesce(ctx context.Context) {
	s.mu.Lock()
	if !s.mu.quiescing {
		s.mu.quiescing = true
		close(s.quiescer)
		for _, cancel := range s.mu.qCancels {
			cancel()
		}
		s.mu.qCancels = nil
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	every := log.Every(5 * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if every.ShouldLog() {
				log.Infof(ctx, "quiescing; tasks left:\n%s", s.RunningTasks())
			}
		}
	}
}

// Stop signals all live workers to stop and then waits for each to
// confirm it has stopped. Closers run after all tasks have finished.
// Stop is idempotent.
func (s *Stopper) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.mu.stopping {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.mu.stopping = true
	s.mu.Unlock()

	s.Quiesce(ctx)

	s.mu.Lock()
	closers := s.mu.closers
	s.mu.closers = nil
	s.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i].Close()
	}
	close(s.stopped)
}
