// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements context-aware logging for the lock arbiter.
//
// Every call takes a context.Context as its first argument. Tags attached to
// the context with logtags.AddTag are prepended to the message, e.g.
//
//	ctx = logtags.AddTag(ctx, "txn", txnID.Short())
//	log.Infof(ctx, "acquired %s", res)
//
// produces "[txn=1a2b3c4d] acquired test.coll". Arguments are formatted with
// redact so that values which are not marked safe can be stripped from logs
// that leave the process.
//
// Entries are written through a logrus.Logger which is configured with
// Configure. Event and VEventf additionally record the message into an event
// recording attached to the context, if any; see ContextWithRecording.
package log
