// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import "os"

// exitCodeFatal is the process exit status after a Fatal message.
const exitCodeFatal = 7

// SetExitFunc allows setting a function that will be called to exit
// the process when a Fatal message is generated. The supplied bool,
// if true, suppresses the stack trace, which is useful for test
// callers wishing to keep the logs reasonably clean.
//
// Call with a nil function to undo.
func SetExitFunc(hideStack bool, f func(int)) {
	logging.mu.Lock()
	defer logging.mu.Unlock()

	logging.mu.exitOverride.f = f
	logging.mu.exitOverride.hideStack = hideStack
}

// ResetExitFunc undoes any prior call to SetExitFunc.
func ResetExitFunc() {
	SetExitFunc(false, nil)
}

func exitFunc() (f func(int), hideStack bool) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	if logging.mu.exitOverride.f != nil {
		return logging.mu.exitOverride.f, logging.mu.exitOverride.hideStack
	}
	return os.Exit, false
}
