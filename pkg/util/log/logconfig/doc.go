// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package logconfig manages the configuration of the process logger.
//
// The configuration is read from the "log" section of the arbiter's YAML
// configuration file, for example:
//
//	log:
//	  level: warning
//	  format: json
//	  file: lockarbiter.log
//	  verbosity: 2
package logconfig
