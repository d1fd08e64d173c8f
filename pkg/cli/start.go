// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/base"
	"github.com/cockroachdb/lockarbiter/pkg/build"
	"github.com/cockroachdb/lockarbiter/pkg/cli/cliflags"
	"github.com/cockroachdb/lockarbiter/pkg/cli/exit"
	"github.com/cockroachdb/lockarbiter/pkg/server"
	"github.com/cockroachdb/lockarbiter/pkg/util/log"
	"github.com/cockroachdb/lockarbiter/pkg/util/stop"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// startCtx captures the command-line arguments of the start command.
var startCtx struct {
	configPath     string
	statusAddr     string
	txnLockTimeout time.Duration
	verbosity      int
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "start the lock arbiter",
	Long: `
Start the lock arbiter and its status server. The process runs until it
receives SIGINT or SIGTERM; waiting lock requests then fail and open
transactions are aborted.
`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

// startConfig builds the server configuration from the configuration file,
// if any, overridden by the flags that were set.
func startConfig(flags *pflag.FlagSet) (base.Config, error) {
	cfg := base.DefaultConfig()
	if startCtx.configPath != "" {
		var err error
		if cfg, err = base.LoadConfig(startCtx.configPath); err != nil {
			return base.Config{}, err
		}
	}
	if flags.Changed(cliflags.StatusAddr.Name) {
		cfg.StatusAddr = startCtx.statusAddr
	}
	if flags.Changed(cliflags.TxnLockTimeout.Name) {
		cfg.TxnLockTimeout = startCtx.txnLockTimeout
	}
	if flags.Changed(cliflags.Verbosity.Name) {
		cfg.Log.Verbosity = startCtx.verbosity
	}
	if err := cfg.Validate(""); err != nil {
		return base.Config{}, exit.WrapWithCode(err, exit.CommandLineFlagError())
	}
	return cfg, nil
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := startConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := log.Configure(cfg.Log); err != nil {
		return errors.Wrap(err, "configuring logging")
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	return runServer(context.Background(), cfg, signalCh)
}

// runServer runs a server with cfg until a signal arrives on signalCh.
func runServer(ctx context.Context, cfg base.Config, signalCh <-chan os.Signal) error {
	log.Infof(ctx, "%s", build.GetInfo().Short())
	log.Infof(ctx, "configuration:\n%s", cfg)

	stopper := stop.NewStopper()
	s, err := server.NewServer(cfg, stopper)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		stopper.Stop(ctx)
		return errors.Wrap(err, "starting server")
	}

	sig := <-signalCh
	log.Infof(ctx, "received signal '%s'; shutting down", sig)
	if err := s.Stop(ctx); err != nil {
		return err
	}
	if sig == os.Interrupt {
		return exit.WrapWithCode(errors.New("interrupted"), exit.Interrupted())
	}
	return nil
}
