// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package testutils

// TestingHook sets *ptr to val and returns a closure restoring *ptr to the
// value it had before. Tests use it to override package-level knobs, e.g.
//
//	defer testutils.TestingHook(&slowWaitLogInterval, time.Duration(0))()
func TestingHook[T any](ptr *T, val T) func() {
	orig := *ptr
	*ptr = val
	return func() { *ptr = orig }
}
