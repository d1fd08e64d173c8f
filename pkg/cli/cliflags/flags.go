// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cliflags describes the command-line flags of the lockarbiter
// binary.
package cliflags

import "strings"

// FlagInfo contains the static information for a CLI flag.
type FlagInfo struct {
	// Name of the flag as used on the command line.
	Name string
	// Shorthand is the short form of the flag (optional).
	Shorthand string
	// EnvVar is the name of the environment variable through which the flag
	// value can be controlled (optional).
	EnvVar string
	// Description of the flag.
	Description string
}

// Usage returns the description, followed by the environment variable
// when there is one.
func (f FlagInfo) Usage() string {
	s := strings.TrimSpace(f.Description)
	if f.EnvVar != "" {
		s += "\nEnvironment variable: " + f.EnvVar
	}
	return s
}

var (
	Config = FlagInfo{
		Name:        "config",
		EnvVar:      "LOCKARBITER_CONFIG",
		Description: `Path to a YAML configuration file.`,
	}

	StatusAddr = FlagInfo{
		Name:        "status-addr",
		EnvVar:      "LOCKARBITER_STATUS_ADDR",
		Description: `Address of the status HTTP server. An empty value disables it.`,
	}

	TxnLockTimeout = FlagInfo{
		Name:        "txn-lock-timeout",
		EnvVar:      "LOCKARBITER_TXN_LOCK_TIMEOUT",
		Description: `Maximum wait of each lock request made by a transaction statement. 0 waits indefinitely.`,
	}

	Verbosity = FlagInfo{
		Name:        "verbosity",
		Shorthand:   "v",
		Description: `Log verbosity. Messages logged with V(n) for n <= verbosity are emitted.`,
	}

	MaxTime = FlagInfo{
		Name: "max-time",
		Description: `
maxTime used by the demo schema changes that honor it. Must be shorter
than the delay before the demo transactions commit.`,
	}

	CommitAfter = FlagInfo{
		Name:        "commit-after",
		Description: `Delay after which the blocking transaction commits in the success scenarios.`,
	}

	Format = FlagInfo{
		Name:        "format",
		Description: `Output format of the demo results: "table" or "tsv".`,
	}
)
