// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/util/log/logconfig"
	"github.com/cockroachdb/lockarbiter/pkg/util/syncutil"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/sirupsen/logrus"
)

var logging struct {
	logger     atomic.Pointer[logrus.Logger]
	verbosity  atomic.Int32
	redactable atomic.Bool

	mu struct {
		syncutil.Mutex
		exitOverride struct {
			f         func(int)
			hideStack bool
		}
		closer io.Closer
	}
}

func init() {
	logging.logger.Store(newLogger(os.Stderr, logconfig.DefaultConfig()))
}

func newLogger(w io.Writer, cfg logconfig.Config) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	switch cfg.Format {
	case logconfig.FormatJSON:
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: timeutil.FullTimeFormat})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timeutil.FullTimeFormat,
			DisableColors:   true,
		})
	}
	switch cfg.Level {
	case logconfig.LevelWarning:
		l.SetLevel(logrus.WarnLevel)
	case logconfig.LevelError:
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// Configure installs a logger built from cfg. The configuration must have
// been validated. Any file opened by a previous call is closed.
func Configure(cfg logconfig.Config) error {
	var w io.Writer = os.Stderr
	var closer io.Closer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return errors.Wrapf(err, "creating log directory for %s", cfg.File)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "opening log file %s", cfg.File)
		}
		w, closer = f, f
	}
	logging.logger.Store(newLogger(w, cfg))
	logging.verbosity.Store(int32(cfg.Verbosity))
	logging.redactable.Store(cfg.Redactable)

	logging.mu.Lock()
	prev := logging.mu.closer
	logging.mu.closer = closer
	logging.mu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// SetVerbosity changes the V(n) threshold and returns the previous value.
func SetVerbosity(level int32) int32 {
	return logging.verbosity.Swap(level)
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return logging.verbosity.Load() >= level
}

// FormatWithContextTags formats the string and prepends the context
// tags.
//
// Redaction markers are *not* inserted. The resulting
// string is generally unsafe for reporting.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	return string(formatMessage(ctx, format, args).StripMarkers())
}

func formatMessage(ctx context.Context, format string, args []interface{}) redact.RedactableString {
	var msg redact.RedactableString
	if format == "" {
		msg = redact.Sprint(args...)
	} else {
		msg = redact.Sprintf(format, args...)
	}
	if tags := logtags.FromContext(ctx); tags != nil {
		var buf redact.StringBuilder
		buf.SafeRune('[')
		for i, t := range tags.Get() {
			if i > 0 {
				buf.SafeRune(',')
			}
			buf.SafeString(redact.SafeString(t.Key()))
			if v := t.Value(); v != nil {
				buf.SafeRune('=')
				buf.Print(v)
			}
		}
		buf.SafeString("] ")
		buf.Print(msg)
		msg = buf.RedactableString()
	}
	return msg
}

func callerField(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 1)
	if !ok {
		return "???"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

// addStructured creates a log entry at the given severity. depth is the
// number of frames between the caller of interest and addStructured.
func addStructured(
	ctx context.Context, sev Severity, depth int, format string, args []interface{},
) {
	msg := formatMessage(ctx, format, args)
	if rec := recordingFromContext(ctx); rec != nil {
		rec.record(msg)
	}

	text := string(msg)
	if !logging.redactable.Load() {
		text = string(msg.StripMarkers())
	}
	entry := logging.logger.Load().WithField("caller", callerField(depth+1))

	if sev != SeverityFatal {
		entry.Log(sev.logrusLevel(), text)
		return
	}
	exit, hideStack := exitFunc()
	if !hideStack {
		entry = entry.WithField("stack", string(debug.Stack()))
	}
	// Entry.Log does not exit for FatalLevel; only Entry.Fatal does.
	entry.Log(logrus.FatalLevel, text)
	exit(exitCodeFatal)
}

// Infof logs to the INFO severity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, 1, format, args)
}

// Info logs a message to the INFO severity.
func Info(ctx context.Context, msg string) {
	addStructured(ctx, SeverityInfo, 1, "", []interface{}{redact.SafeString(msg)})
}

// Warningf logs to the WARNING severity.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityWarning, 1, format, args)
}

// Errorf logs to the ERROR severity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityError, 1, format, args)
}

// Fatalf logs to the FATAL severity and then exits the process, or calls the
// function installed with SetExitFunc.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityFatal, 1, format, args)
}

// Fatal logs err to the FATAL severity and exits.
func Fatal(ctx context.Context, err error) {
	addStructured(ctx, SeverityFatal, 1, "%+v", []interface{}{err})
}

// InfofDepth logs to the INFO severity, attributing the entry to the caller
// depth frames up the stack.
func InfofDepth(ctx context.Context, depth int, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, depth+1, format, args)
}

// Logf logs at an explicit severity.
func Logf(ctx context.Context, sev Severity, format string, args ...interface{}) {
	addStructured(ctx, sev, 1, format, args)
}

// VEventf records the message into the context's recording, if any, and
// logs it at INFO if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if V(level) {
		addStructured(ctx, SeverityInfo, 1, format, args)
		return
	}
	if rec := recordingFromContext(ctx); rec != nil {
		rec.record(formatMessage(ctx, format, args))
	}
}

// Event records msg into the context's recording, if any. It does not
// produce a log entry.
func Event(ctx context.Context, msg string) {
	if rec := recordingFromContext(ctx); rec != nil {
		rec.record(formatMessage(ctx, "", []interface{}{redact.SafeString(msg)}))
	}
}

// Eventf is like Event with formatting.
func Eventf(ctx context.Context, format string, args ...interface{}) {
	if rec := recordingFromContext(ctx); rec != nil {
		rec.record(formatMessage(ctx, format, args))
	}
}

// ExpensiveLogEnabled is true if a V(level) entry or an event recording
// would be produced for ctx.
func ExpensiveLogEnabled(ctx context.Context, level int32) bool {
	return V(level) || recordingFromContext(ctx) != nil
}
