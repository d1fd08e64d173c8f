// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"bytes"
	"context"
	stdLog "log"
	"regexp"
	"strings"

	"github.com/cockroachdb/redact"
)

// NewStdLogger creates a *stdLog.Logger that forwards messages to the
// arbiter's logs with the specified severity. It is meant for libraries such
// as net/http that only accept a standard logger.
//
// The prefix should be the path of the package for which this logger
// is used. The prefix will be concatenated directly with the name
// of the file that triggered the logging.
func NewStdLogger(severity Severity, prefix string) *stdLog.Logger {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return stdLog.New(logBridge(severity), prefix, stdLog.Lshortfile)
}

// logBridge provides the Write method that connects a standard logger to
// the logs provided by this package.
type logBridge Severity

var ignoredLogMessagesRe = regexp.MustCompile(
	// The HTTP package complains when a client opens a TCP connection
	// and immediately closes it. We don't care.
	`^.*:\d+\: http: TLS handshake error from .*: EOF\s*$`,
)

// Write passes the standard logging line to the logger for Severity(lb).
func (lb logBridge) Write(b []byte) (n int, err error) {
	if ignoredLogMessagesRe.Match(b) {
		return len(b), nil
	}
	msg := string(bytes.TrimRight(b, "\n"))
	// The source of the message is unknown so none of it is considered safe.
	addStructured(context.Background(), Severity(lb), 1, "(gostd) %s", []interface{}{redact.Unsafe(msg)})
	return len(b), nil
}
