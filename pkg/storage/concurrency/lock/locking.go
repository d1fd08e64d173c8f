// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package lock provides type definitions for locking-related concepts used by
// concurrency control in the lock arbiter: the lockable resources, the modes
// in which they can be held, and the hierarchy that relates a collection to
// its database.
package lock
