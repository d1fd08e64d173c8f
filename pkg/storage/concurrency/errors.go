// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package concurrency

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
)

var (
	// ErrLockTimeout is the mark carried by every *LockTimeoutError.
	ErrLockTimeout = errors.New("lock request timed out")
	// ErrInvalidState marks operations on a transaction in a terminal
	// state, or releases of locks that are not held. It indicates a bug in
	// the caller.
	ErrInvalidState = errors.New("invalid state")
	// ErrOrderingViolation marks multi-resource acquisitions whose targets
	// are not in the global resource order. It indicates a bug in the
	// caller.
	ErrOrderingViolation = errors.New("lock ordering violation")
	// ErrQuiescing is returned to waiting requests when the manager is
	// shutting down.
	ErrQuiescing = errors.New("lock manager is quiescing")
	// ErrNoSuchTransaction is returned when no open transaction exists for
	// a session.
	ErrNoSuchTransaction = errors.New("no such transaction")
)

// LockTimeoutError is returned when a lock request's deadline elapses before
// the lock could be granted. It renders as an "exceeded time limit"
// condition.
type LockTimeoutError struct {
	Resource lock.Resource
	Mode     lock.Mode
	Waited   time.Duration
}

var _ errors.SafeFormatter = (*LockTimeoutError)(nil)

func (e *LockTimeoutError) Error() string { return fmt.Sprint(e) }

// Format implements fmt.Formatter.
func (e *LockTimeoutError) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }

// SafeFormatError implements errors.SafeFormatter.
func (e *LockTimeoutError) SafeFormatError(p errors.Printer) (next error) {
	p.Printf("exceeded time limit waiting %s for %s lock on %s", e.Waited, e.Mode, e.Resource)
	return nil
}

// Is makes every *LockTimeoutError match ErrLockTimeout.
func (e *LockTimeoutError) Is(target error) bool {
	return target == ErrLockTimeout
}

// IsLockTimeout returns whether err is, or wraps, a lock timeout.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.HasType(err, (*LockTimeoutError)(nil))
}

// NewInvalidStateErrorf returns an assertion failure marked with
// ErrInvalidState.
func NewInvalidStateErrorf(format string, args ...interface{}) error {
	return errors.Mark(errors.AssertionFailedWithDepthf(1, format, args...), ErrInvalidState)
}

func newOrderingViolationError(err error) error {
	return errors.Mark(
		errors.NewAssertionErrorWithWrappedErrf(err, "multi-resource acquisition out of order"),
		ErrOrderingViolation)
}
