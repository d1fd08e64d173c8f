// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/base"
	"github.com/cockroachdb/lockarbiter/pkg/cli/cliflags"
	"github.com/cockroachdb/lockarbiter/pkg/cli/exit"
	"github.com/cockroachdb/lockarbiter/pkg/testutils/skip"
	"github.com/cockroachdb/lockarbiter/pkg/util/leaktest"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestRunDemo(t *testing.T) {
	defer leaktest.AfterTest(t)()
	skip.UnderShort(t, "runs every demo scenario")
	defer log.Scope(t).Close(t)

	const maxTime = 20 * time.Millisecond
	results, err := runDemo(context.Background(), maxTime, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, results, 2*len(demoOps))
	for _, r := range results {
		require.True(t, r.ok, "%+v", r)
		if r.scenario == scenarioTimeout && r.op != "dropDatabase" {
			require.Equal(t, "exceeded time limit", r.outcome)
			require.GreaterOrEqual(t, r.elapsed, maxTime)
		} else {
			require.Equal(t, "ok", r.outcome)
		}
	}
}

func TestPrintTable(t *testing.T) {
	cols := []string{"operation", "outcome"}
	rows := [][]string{{"drop", "exceeded time limit"}, {"dropDatabase", "ok"}}

	var buf bytes.Buffer
	require.NoError(t, printTable(&buf, tableDisplayTSV, cols, rows))
	require.Equal(t, "operation\toutcome\ndrop\texceeded time limit\ndropDatabase\tok\n", buf.String())

	buf.Reset()
	require.NoError(t, printTable(&buf, tableDisplayTable, cols, rows))
	require.Contains(t, buf.String(), "| dropDatabase | ok"+strings.Repeat(" ", 18)+"|")
	require.True(t, strings.HasSuffix(buf.String(), "(2 rows)\n"))

	require.Error(t, printTable(&buf, "html", cols, rows))
}

func TestSummarizeElapsed(t *testing.T) {
	results := []demoResult{
		{scenario: scenarioTimeout, elapsed: 20 * time.Millisecond},
		{scenario: scenarioCommit, elapsed: 100 * time.Millisecond},
		{scenario: scenarioTimeout, elapsed: 30 * time.Millisecond},
		{scenario: scenarioCommit, elapsed: 300 * time.Millisecond},
		{scenario: scenarioTimeout, elapsed: 1500 * time.Millisecond},
	}
	rows, err := summarizeElapsed(results)
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{scenarioTimeout, "30ms", "1.5s"},
		{scenarioCommit, "200ms", "300ms"},
	}, rows)

	rows, err = summarizeElapsed(nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestStartConfig(t *testing.T) {
	defer leaktest.AfterTest(t)()

	dir := t.TempDir()
	path := filepath.Join(dir, "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("status-addr: localhost:9000\ntxn-lock-timeout: 1s\n"), 0644))

	defer func() {
		startCtx.configPath, startCtx.statusAddr = "", ""
		startCtx.txnLockTimeout, startCtx.verbosity = 0, 0
	}()
	f := pflag.NewFlagSet("start", pflag.ContinueOnError)
	stringFlag(f, &startCtx.configPath, cliflags.Config)
	stringFlag(f, &startCtx.statusAddr, cliflags.StatusAddr)
	durationFlag(f, &startCtx.txnLockTimeout, cliflags.TxnLockTimeout)
	intFlag(f, &startCtx.verbosity, cliflags.Verbosity)

	require.NoError(t, f.Parse([]string{"--config", path, "--txn-lock-timeout", "250ms"}))
	cfg, err := startConfig(f)
	require.NoError(t, err)
	require.Equal(t, "localhost:9000", cfg.StatusAddr)
	require.Equal(t, 250*time.Millisecond, cfg.TxnLockTimeout)
	require.Equal(t, base.SlowRequestThreshold, cfg.SlowWaitThreshold)

	require.NoError(t, f.Parse([]string{"--txn-lock-timeout", "-1s"}))
	_, err = startConfig(f)
	require.Equal(t, exit.CommandLineFlagError(), exit.FromError(err))
}

func TestRunServerStopsOnSignal(t *testing.T) {
	defer leaktest.AfterTest(t)()
	defer log.Scope(t).Close(t)

	cfg := base.DefaultConfig()
	cfg.StatusAddr = "127.0.0.1:0"
	signalCh := make(chan os.Signal, 1)
	signalCh <- syscall.SIGTERM
	require.NoError(t, runServer(context.Background(), cfg, signalCh))

	signalCh <- os.Interrupt
	err := runServer(context.Background(), cfg, signalCh)
	require.Equal(t, exit.Interrupted(), exit.FromError(err))
}

func TestExitCodes(t *testing.T) {
	require.Equal(t, exit.Success(), exit.FromError(nil))
	require.Equal(t, exit.UnspecifiedError(), exit.FromError(errors.New("boom")))
	err := errors.Wrap(exit.WrapWithCode(errors.New("boom"), exit.DemoScenarioFailed()), "demo")
	require.Equal(t, 125, exit.FromError(err).Int())
}

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	lockarbiterCmd.SetOut(&buf)
	defer lockarbiterCmd.SetOut(nil)
	require.NoError(t, Run([]string{"version"}))
	require.Contains(t, buf.String(), "Build Tag:")
	require.Contains(t, buf.String(), "Go Version:")
}
