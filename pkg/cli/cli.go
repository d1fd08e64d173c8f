// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cli implements the lockarbiter command line.
package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cockroachdb/lockarbiter/pkg/build"
	"github.com/cockroachdb/lockarbiter/pkg/cli/exit"
	"github.com/spf13/cobra"
)

// Proxy to allow overrides in tests.
var osStderr = os.Stderr

var versionIncludesDeps bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "output version information",
	Long: `
Output build version information.
`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		info := build.GetInfo()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 1, 2, ' ', 0)
		fmt.Fprintf(tw, "Build Tag:   %s\n", info.Tag)
		fmt.Fprintf(tw, "Build Time:  %s\n", info.Time)
		fmt.Fprintf(tw, "Revision:    %s\n", info.Revision)
		fmt.Fprintf(tw, "Platform:    %s\n", info.Platform)
		fmt.Fprintf(tw, "Go Version:  %s\n", info.GoVersion)
		if versionIncludesDeps {
			fmt.Fprintf(tw, "Build Deps:\n\t%s\n",
				strings.Replace(strings.Join(info.Dependencies, "\n\t"), ":", "\t", -1))
		}
		_ = tw.Flush()
	},
}

var lockarbiterCmd = &cobra.Command{
	Use:   "lockarbiter [command] (flags)",
	Short: "lock arbiter between transactions and schema changes",
	Long: `
Arbitrates locks between multi-statement transactions holding intent locks
and schema changes that need exclusive access to the same resources.
`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.EnableCommandSorting = false

	lockarbiterCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return exit.WrapWithCode(err, exit.CommandLineFlagError())
	})
	lockarbiterCmd.AddCommand(
		startCmd,
		demoCmd,

		// Miscellaneous commands.
		versionCmd,
	)
}

// Main is the entry point of the lockarbiter binary.
func Main() {
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "help")
	}
	err := Run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(osStderr, "ERROR: %v\n", err)
	}
	exit.WithCode(exit.FromError(err))
}

// Run runs the command named by args.
func Run(args []string) error {
	lockarbiterCmd.SetArgs(args)
	return lockarbiterCmd.Execute()
}
