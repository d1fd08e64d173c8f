// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package cli

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/cli/cliflags"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envFlags maps flag names to the environment variable providing their
// default.
var envFlags = map[string]string{}

func stringFlag(f *pflag.FlagSet, valPtr *string, flagInfo cliflags.FlagInfo) {
	f.StringVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	registerEnvVarDefault(flagInfo)
}

func durationFlag(f *pflag.FlagSet, valPtr *time.Duration, flagInfo cliflags.FlagInfo) {
	f.DurationVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	registerEnvVarDefault(flagInfo)
}

func intFlag(f *pflag.FlagSet, valPtr *int, flagInfo cliflags.FlagInfo) {
	f.IntVarP(valPtr, flagInfo.Name, flagInfo.Shorthand, *valPtr, flagInfo.Usage())
	registerEnvVarDefault(flagInfo)
}

func registerEnvVarDefault(flagInfo cliflags.FlagInfo) {
	if flagInfo.EnvVar != "" {
		envFlags[flagInfo.Name] = flagInfo.EnvVar
	}
}

// processEnvVarDefaults sets the flags that were not given on the command
// line from their environment variable. A flag set this way counts as
// changed.
func processEnvVarDefaults(cmd *cobra.Command) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		envVar, ok := envFlags[f.Name]
		if !ok || f.Changed || err != nil {
			return
		}
		if v, ok := os.LookupEnv(envVar); ok {
			if setErr := cmd.Flags().Set(f.Name, v); setErr != nil {
				err = errors.Wrapf(setErr, "setting --%s from %s", f.Name, envVar)
			}
		}
	})
	return err
}

// AddPersistentPreRunE add 'fn' as a persistent pre-run function to 'cmd'.
// If the command has an existing pre-run function, it is saved and will be called
// at the beginning of 'fn'.
// This allows an arbitrary number of pre-run functions with ordering based
// on the order in which AddPersistentPreRunE is called (usually package init order).
func AddPersistentPreRunE(cmd *cobra.Command, fn func(*cobra.Command, []string) error) {
	// Save any existing hooks.
	wrapped := cmd.PersistentPreRunE

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Run the previous hook if it exists.
		if wrapped != nil {
			if err := wrapped(cmd, args); err != nil {
				return err
			}
		}
		return fn(cmd, args)
	}
}

func init() {
	AddPersistentPreRunE(lockarbiterCmd, func(cmd *cobra.Command, _ []string) error {
		return processEnvVarDefaults(cmd)
	})

	{
		f := startCmd.Flags()
		stringFlag(f, &startCtx.configPath, cliflags.Config)
		stringFlag(f, &startCtx.statusAddr, cliflags.StatusAddr)
		durationFlag(f, &startCtx.txnLockTimeout, cliflags.TxnLockTimeout)
		intFlag(f, &startCtx.verbosity, cliflags.Verbosity)
	}

	{
		f := demoCmd.Flags()
		durationFlag(f, &demoCtx.maxTime, cliflags.MaxTime)
		durationFlag(f, &demoCtx.commitAfter, cliflags.CommitAfter)
		stringFlag(f, &demoCtx.format, cliflags.Format)
		intFlag(f, &demoCtx.verbosity, cliflags.Verbosity)
	}

	versionCmd.Flags().BoolVar(&versionIncludesDeps, "build-deps", false,
		"Include dependency versions in the output.")
}
