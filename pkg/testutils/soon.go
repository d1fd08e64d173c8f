// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testutils

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/util"
)

// DefaultSucceedsSoonDuration is the maximum amount of time unittests
// will wait for a condition to become true. See SucceedsSoon().
const DefaultSucceedsSoonDuration = 45 * time.Second

// SucceedsSoon fails the test (with t.Fatal) unless the supplied
// function runs without error within a preset maximum duration. The
// function is invoked immediately at first and then successively with
// an exponential backoff starting at 1ns and ending at around 1s.
func SucceedsSoon(t TestFataler, fn func() error) {
	t.Helper()
	if err := SucceedsSoonError(fn); err != nil {
		t.Fatalf("condition failed to evaluate within %s: %s", succeedsSoonDuration(), err)
	}
}

// SucceedsSoonError returns an error unless the supplied function runs without
// error within a preset maximum duration.
func SucceedsSoonError(fn func() error) error {
	return SucceedsWithin(fn, succeedsSoonDuration())
}

// SucceedsWithin is like SucceedsSoonError with an explicit duration.
func SucceedsWithin(fn func() error, duration time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Nanosecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = duration
	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = fn()
		return lastErr
	}, b)
	if err != nil {
		return errors.Wrapf(lastErr, "after %s", duration)
	}
	return nil
}

func succeedsSoonDuration() time.Duration {
	if util.RaceEnabled {
		return DefaultSucceedsSoonDuration * 3
	}
	return DefaultSucceedsSoonDuration
}
