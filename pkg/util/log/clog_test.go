// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/lockarbiter/pkg/util/log/logconfig"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
	"github.com/stretchr/testify/require"
)

func TestFormatWithContextTags(t *testing.T) {
	ctx := context.Background()
	ctx = logtags.AddTag(ctx, "txn", "1a2b")
	ctx = logtags.AddTag(ctx, "ddl", nil)
	require.Equal(t, "[txn=1a2b,ddl] lock test.coll in X",
		FormatWithContextTags(ctx, "lock %s in %s", "test.coll", redact.Safe("X")))
	require.Equal(t, "plain", FormatWithContextTags(context.Background(), "plain"))
}

func TestScopeCapturesSeverities(t *testing.T) {
	sc := Scope(t)
	defer sc.Close(t)

	ctx := logtags.AddTag(context.Background(), "n", 1)
	Infof(ctx, "hello %d", 1)
	Warningf(ctx, "careful")
	Errorf(ctx, "broken: %v", "x")

	require.Len(t, sc.Messages(SeverityInfo), 3)
	require.Equal(t, []string{"[n=1] careful", "[n=1] broken: x"}, sc.Messages(SeverityWarning))
	require.True(t, sc.Contains(SeverityError, "broken"))
	require.False(t, sc.Contains(SeverityError, "hello"))
}

func TestFatalUsesExitOverride(t *testing.T) {
	defer Scope(t).Close(t)
	var code int
	SetExitFunc(true /* hideStack */, func(c int) { code = c })
	defer ResetExitFunc()

	Fatalf(context.Background(), "boom")
	require.Equal(t, exitCodeFatal, code)
}

func TestEventsRecordedWithoutVerbosity(t *testing.T) {
	sc := Scope(t)
	defer sc.Close(t)
	prev := SetVerbosity(0)
	defer SetVerbosity(prev)

	ctx, rec := ContextWithRecording(context.Background())
	ctx = logtags.AddTag(ctx, "txn", "t1")
	Event(ctx, "queued")
	Eventf(ctx, "waiting on %s", "test.coll")
	VEventf(ctx, 2, "granted after %s", time.Millisecond)
	Infof(ctx, "done")

	require.Equal(t,
		"[txn=t1] queued\n[txn=t1] waiting on test.coll\n[txn=t1] granted after 1ms\n[txn=t1] done\n",
		rec.String())
	require.True(t, rec.Contains("waiting on"))
	// Only the Infof reached the logger.
	require.Equal(t, []string{"[txn=t1] done"}, sc.Messages(SeverityInfo))
	require.True(t, ExpensiveLogEnabled(ctx, 5))
	require.False(t, ExpensiveLogEnabled(context.Background(), 1))
}

func TestEveryNShouldLog(t *testing.T) {
	prev := SetVerbosity(0)
	defer SetVerbosity(prev)
	e := Every(time.Hour)
	now := timeutil.Now()
	require.True(t, e.shouldLog(now))
	require.False(t, e.shouldLog(now.Add(time.Minute)))

	SetVerbosity(2)
	require.True(t, e.shouldLog(now.Add(time.Minute)))
}

func TestConfigureFile(t *testing.T) {
	dir := t.TempDir()
	cfg := logconfig.DefaultConfig()
	cfg.File = filepath.Join(dir, "sub", "arbiter.log")
	cfg.Format = logconfig.FormatJSON
	require.NoError(t, Configure(cfg))
	defer func() { require.NoError(t, Configure(logconfig.DefaultConfig())) }()

	Infof(context.Background(), "to the file")
	b, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	require.Contains(t, string(b), `"msg":"to the file"`)
}

func TestStdLoggerBridge(t *testing.T) {
	sc := Scope(t)
	defer sc.Close(t)
	NewStdLogger(SeverityWarning, "net/http").Print("listener closed")
	require.True(t, sc.Contains(SeverityWarning, "listener closed"))
}

func TestSeverityByName(t *testing.T) {
	s, ok := SeverityByName("warning")
	require.True(t, ok)
	require.Equal(t, SeverityWarning, s)
	_, ok = SeverityByName("debug")
	require.False(t, ok)
	require.Equal(t, "FATAL", SeverityFatal.String())
}
