// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// TestLogScope captures the entries logged while it is active so that tests
// can assert on them. Output is discarded unless the test fails.
type TestLogScope struct {
	prev *logrus.Logger
	hook *test.Hook
}

// Scope installs a capturing logger for the duration of a test. The caller
// must call Close.
//
//	defer log.Scope(t).Close(t)
func Scope(t testing.TB) *TestLogScope {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.InfoLevel)
	sc := &TestLogScope{
		prev: logging.logger.Load(),
		hook: test.NewLocal(l),
	}
	logging.logger.Store(l)
	return sc
}

// Messages returns the messages logged at or above sev since the scope was
// opened.
func (sc *TestLogScope) Messages(sev Severity) []string {
	var msgs []string
	for _, e := range sc.hook.AllEntries() {
		// Lower logrus levels are more severe.
		if e.Level <= sev.logrusLevel() {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

// Contains reports whether a message containing substr was logged at or
// above sev.
func (sc *TestLogScope) Contains(sev Severity, substr string) bool {
	for _, m := range sc.Messages(sev) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// Close restores the logger that was active before Scope. If the test
// failed, the captured messages are replayed through t.Log.
func (sc *TestLogScope) Close(t testing.TB) {
	t.Helper()
	logging.logger.Store(sc.prev)
	if t.Failed() {
		for _, e := range sc.hook.AllEntries() {
			t.Logf("%s %s", strings.ToUpper(e.Level.String()), e.Message)
		}
	}
}
