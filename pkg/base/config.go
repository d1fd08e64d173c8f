// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package base holds the configuration shared by the server and the CLI.
package base

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/util/log/logconfig"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration. The zero value is not valid; start
// from DefaultConfig.
type Config struct {
	// StatusAddr is the host:port of the status HTTP server. Empty disables
	// it.
	StatusAddr string `yaml:"status-addr"`
	// TxnLockTimeout bounds the wait of every lock request made by a
	// transaction statement. Zero waits indefinitely.
	TxnLockTimeout time.Duration `yaml:"txn-lock-timeout"`
	// SlowWaitThreshold is the wait after which a lock request is logged
	// as slow. Zero disables the report.
	SlowWaitThreshold time.Duration `yaml:"slow-wait-threshold"`
	// GraphiteEndpoint, if set, receives the metrics every
	// GraphiteInterval.
	GraphiteEndpoint string        `yaml:"graphite-endpoint,omitempty"`
	GraphiteInterval time.Duration `yaml:"graphite-interval,omitempty"`
	// ShutdownTimeout bounds the graceful shutdown of the status server.
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout"`

	Log logconfig.Config `yaml:"log"`
}

// DefaultConfig returns the configuration used when none is specified.
func DefaultConfig() Config {
	return Config{
		StatusAddr:        DefaultStatusAddr,
		TxnLockTimeout:    DefaultTxnLockTimeout,
		SlowWaitThreshold: SlowRequestThreshold,
		GraphiteInterval:  DefaultMetricsPushInterval,
		ShutdownTimeout:   DefaultShutdownTimeout,
		Log:               logconfig.DefaultConfig(),
	}
}

// Validate normalizes the configuration and reports the first problem
// found. Relative paths are resolved against dir.
func (c *Config) Validate(dir string) error {
	if c.TxnLockTimeout < 0 {
		return errors.Newf("txn-lock-timeout must be non-negative, got %s", c.TxnLockTimeout)
	}
	if c.SlowWaitThreshold < 0 {
		return errors.Newf("slow-wait-threshold must be non-negative, got %s", c.SlowWaitThreshold)
	}
	if c.GraphiteEndpoint != "" && c.GraphiteInterval <= 0 {
		return errors.Newf("graphite-interval must be positive, got %s", c.GraphiteInterval)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return errors.Wrap(c.Log.Validate(&dir), "log")
}

// ParseConfig parses a YAML configuration on top of DefaultConfig. Unknown
// fields are rejected.
func ParseConfig(data []byte, dir string) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document leaves the defaults in place.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parsing configuration")
	}
	if err := cfg.Validate(dir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads the configuration from path. Relative paths in the file
// are resolved against its directory.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading configuration")
	}
	cfg, err := ParseConfig(data, filepath.Dir(path))
	return cfg, errors.Wrapf(err, "%s", path)
}

// String renders the configuration as YAML.
func (c Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}
