// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package logconfig

import (
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Supported values for Config.Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Supported values for Config.Level.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Config describes where and how log entries are emitted.
type Config struct {
	// Level is the minimum severity written to the sink.
	Level string `yaml:"level"`
	// Format selects the entry encoding, either "text" or "json".
	Format string `yaml:"format"`
	// File is the output file. Empty means stderr.
	File string `yaml:"file,omitempty"`
	// Verbosity enables V(n) logging for all n <= Verbosity.
	Verbosity int `yaml:"verbosity"`
	// Redactable keeps redaction markers around unsafe values.
	Redactable bool `yaml:"redactable"`
}

// DefaultConfig returns the configuration used when none is specified.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
	}
}

// Validate normalizes the configuration in place and reports the first
// problem found. A relative File is resolved against defaultDir when
// defaultDir is non-nil.
func (c *Config) Validate(defaultDir *string) error {
	c.Level = strings.ToLower(strings.TrimSpace(c.Level))
	switch c.Level {
	case "":
		c.Level = LevelInfo
	case LevelInfo, LevelWarning, LevelError:
	default:
		return errors.Newf("unknown log level: %q", c.Level)
	}

	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	switch c.Format {
	case "":
		c.Format = FormatText
	case FormatText, FormatJSON:
	default:
		return errors.Newf("unknown log format: %q", c.Format)
	}

	if c.Verbosity < 0 {
		return errors.Newf("verbosity must be non-negative, got %d", c.Verbosity)
	}

	if c.File != "" && !filepath.IsAbs(c.File) && defaultDir != nil {
		c.File = filepath.Join(*defaultDir, c.File)
	}
	return nil
}
