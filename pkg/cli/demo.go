// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/base"
	"github.com/cockroachdb/lockarbiter/pkg/cli/exit"
	"github.com/cockroachdb/lockarbiter/pkg/server"
	"github.com/cockroachdb/lockarbiter/pkg/sql/ddl"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/log/logconfig"
	"github.com/cockroachdb/lockarbiter/pkg/util/stop"
	"github.com/cockroachdb/lockarbiter/pkg/util/timeutil"
	"github.com/montanaflynn/stats"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// demoCtx captures the command-line arguments of the demo command.
var demoCtx = struct {
	maxTime     time.Duration
	commitAfter time.Duration
	format      string
	verbosity   int
}{
	maxTime:     500 * time.Millisecond,
	commitAfter: 100 * time.Millisecond,
	format:      tableDisplayTable,
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "show transactions blocking schema changes",
	Long: `
Run every schema change against a collection written to by an open
transaction. Each schema change is run twice: once with --max-time while the
transaction stays open, and once while the transaction commits after
--commit-after. dropDatabase does not honor --max-time and waits for the
transaction in both cases.
`,
	Args: cobra.NoArgs,
	RunE: runDemoCmd,
}

const (
	scenarioTimeout = "transaction stays open"
	scenarioCommit  = "transaction commits"
)

var (
	demoDB   = lock.DB("test")
	demoColl = lock.Collection("test", "coll")
)

type demoOp struct {
	name string
	op   func() ddl.Operation
}

var demoOps = []demoOp{
	{"drop", func() ddl.Operation { return ddl.DropOp(demoColl, nil) }},
	{"dropDatabase", func() ddl.Operation { return ddl.DropDatabaseOp(demoDB, nil) }},
	{"renameCollection", func() ddl.Operation {
		return ddl.RenameCollectionOp(demoColl, lock.Collection("test", "renamed"), nil)
	}},
	{"renameCollection across databases", func() ddl.Operation {
		return ddl.RenameCollectionOp(demoColl, lock.Collection("other", "coll"), nil)
	}},
	{"createIndexes", func() ddl.Operation { return ddl.CreateIndexesOp(demoColl, nil) }},
	{"dropIndexes", func() ddl.Operation { return ddl.DropIndexesOp(demoColl, nil) }},
}

type demoResult struct {
	op       string
	scenario string
	expected string
	outcome  string
	elapsed  time.Duration
	ok       bool
}

func (r demoResult) row() []string {
	status := "ok"
	if !r.ok {
		status = "FAILED"
	}
	return []string{
		r.op, r.scenario, r.expected, r.outcome,
		r.elapsed.Round(time.Millisecond).String(), status,
	}
}

func runDemoCmd(cmd *cobra.Command, _ []string) error {
	if demoCtx.commitAfter <= 0 {
		return exit.WrapWithCode(errors.New("--commit-after must be positive"), exit.CommandLineFlagError())
	}
	logCfg := logconfig.DefaultConfig()
	logCfg.Level = logconfig.LevelWarning
	if demoCtx.verbosity > 0 {
		logCfg.Level = logconfig.LevelInfo
		logCfg.Verbosity = demoCtx.verbosity
	}
	if err := log.Configure(logCfg); err != nil {
		return err
	}

	results, err := runDemo(context.Background(), demoCtx.maxTime, demoCtx.commitAfter)
	if err != nil {
		return err
	}
	rows := make([][]string, len(results))
	failed := 0
	for i, r := range results {
		rows[i] = r.row()
		if !r.ok {
			failed++
		}
	}
	cols := []string{"operation", "scenario", "expected", "outcome", "elapsed", "status"}
	if err := printTable(cmd.OutOrStdout(), demoCtx.format, cols, rows); err != nil {
		return exit.WrapWithCode(err, exit.CommandLineFlagError())
	}
	summary, err := summarizeElapsed(results)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())
	summaryCols := []string{"scenario", "median elapsed", "max elapsed"}
	if err := printTable(cmd.OutOrStdout(), demoCtx.format, summaryCols, summary); err != nil {
		return exit.WrapWithCode(err, exit.CommandLineFlagError())
	}
	if failed > 0 {
		return exit.WrapWithCode(
			errors.Newf("%d of %d scenarios failed", failed, len(results)), exit.DemoScenarioFailed())
	}
	return nil
}

// runDemo runs every operation in both scenarios. Each run uses its own
// server, so the runs proceed concurrently.
func runDemo(ctx context.Context, maxTime, commitAfter time.Duration) ([]demoResult, error) {
	results := make([]demoResult, 2*len(demoOps))
	g, ctx := errgroup.WithContext(ctx)
	for i, o := range demoOps {
		i, o := i, o
		g.Go(func() error {
			var err error
			results[2*i], err = runDemoScenario(ctx, o, scenarioTimeout, maxTime, commitAfter)
			return err
		})
		g.Go(func() error {
			var err error
			results[2*i+1], err = runDemoScenario(ctx, o, scenarioCommit, maxTime, commitAfter)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// runDemoScenario opens a transaction that writes to the demo collection
// and runs o against it. The returned error reports a failure of the demo
// itself, not an unexpected outcome.
func runDemoScenario(
	ctx context.Context, o demoOp, scenario string, maxTime, commitAfter time.Duration,
) (_ demoResult, retErr error) {
	cfg := base.DefaultConfig()
	cfg.StatusAddr = ""
	cfg.TxnLockTimeout = 0
	stopper := stop.NewStopper()
	s, err := server.NewServer(cfg, stopper)
	if err != nil {
		return demoResult{}, err
	}
	defer func() { retErr = errors.CombineErrors(retErr, s.Stop(ctx)) }()

	const session = "demo-txn"
	if err := s.BeginTransaction(ctx, session); err != nil {
		return demoResult{}, err
	}
	if err := s.TransactionAcquire(ctx, session, demoColl, lock.IntentExclusive); err != nil {
		return demoResult{}, err
	}

	op := o.op()
	op.Session = "demo-ddl"
	res := demoResult{op: o.name, scenario: scenario}
	waitsAnyway := op.Kind.Policy() == ddl.IgnoreMaxTime

	if scenario == scenarioTimeout && !waitsAnyway {
		res.expected = fmt.Sprintf("exceeded time limit after %s", maxTime)
		start := timeutil.Now()
		err := s.RunDDL(ctx, op, maxTime)
		res.elapsed = timeutil.Since(start)
		res.outcome = describeOutcome(err)
		res.ok = concurrency.IsLockTimeout(err) && res.elapsed >= maxTime
		return res, s.Abort(ctx, session)
	}

	// The schema change must wait for the transaction.
	ddlMaxTime := maxTime
	if scenario == scenarioCommit {
		ddlMaxTime = 10*commitAfter + time.Second
	}
	start := timeutil.Now()
	done := make(chan error, 1)
	go func() { done <- s.RunDDL(ctx, op, ddlMaxTime) }()

	if _, err := s.LockManager().Waiters().WaitFor(ctx, concurrency.Filter{Session: op.Session},
		func(ws []concurrency.WaiterInfo) bool { return len(ws) > 0 },
	); err != nil {
		return demoResult{}, errors.CombineErrors(err, <-done)
	}

	finish := s.Commit
	hold := commitAfter
	res.expected = fmt.Sprintf("ok once the transaction commits after %s", commitAfter)
	if scenario == scenarioTimeout {
		// Keep the transaction open well past maxTime, then abort it.
		finish = s.Abort
		hold = 2 * maxTime
		res.expected = fmt.Sprintf("still waiting after %s, ok once the transaction aborts", hold)
	}

	var stillWaiting bool
	select {
	case err := <-done:
		res.elapsed = timeutil.Since(start)
		res.outcome = "finished early: " + describeOutcome(err)
		return res, finish(ctx, session)
	case <-time.After(hold):
		stillWaiting = len(s.ListWaiters(concurrency.Filter{Session: op.Session})) > 0
	}
	if err := finish(ctx, session); err != nil {
		return demoResult{}, errors.CombineErrors(err, <-done)
	}
	err = <-done
	res.elapsed = timeutil.Since(start)
	res.outcome = describeOutcome(err)
	res.ok = err == nil && stillWaiting
	return res, nil
}

// summarizeElapsed returns one row per scenario with the median and the
// maximum time the schema changes took.
func summarizeElapsed(results []demoResult) ([][]string, error) {
	elapsed := make(map[string]stats.Float64Data)
	for _, r := range results {
		elapsed[r.scenario] = append(elapsed[r.scenario], float64(r.elapsed))
	}
	var rows [][]string
	for _, scenario := range []string{scenarioTimeout, scenarioCommit} {
		data := elapsed[scenario]
		if len(data) == 0 {
			continue
		}
		median, err := stats.Median(data)
		if err != nil {
			return nil, errors.Wrapf(err, "summarizing %q", scenario)
		}
		maxElapsed, err := stats.Max(data)
		if err != nil {
			return nil, errors.Wrapf(err, "summarizing %q", scenario)
		}
		rows = append(rows, []string{
			scenario,
			time.Duration(median).Round(time.Millisecond).String(),
			time.Duration(maxElapsed).Round(time.Millisecond).String(),
		})
	}
	return rows, nil
}

func describeOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case concurrency.IsLockTimeout(err):
		return "exceeded time limit"
	default:
		return err.Error()
	}
}
