// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package concurrency

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/redact"
	"github.com/google/uuid"
)

// RequesterKind distinguishes the two classes of lock owners.
type RequesterKind int8

const (
	// Transaction requesters hold their locks until commit or abort.
	Transaction RequesterKind = iota
	// DDL requesters hold their locks for the duration of one operation.
	DDL
)

func (k RequesterKind) String() string {
	switch k {
	case Transaction:
		return "txn"
	case DDL:
		return "ddl"
	default:
		return "unknown"
	}
}

// SafeValue implements redact.SafeValue.
func (RequesterKind) SafeValue() {}

// MarshalText implements encoding.TextMarshaler.
func (k RequesterKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RequesterKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "txn":
		*k = Transaction
	case "ddl":
		*k = DDL
	default:
		return errors.Newf("unknown requester kind %q", b)
	}
	return nil
}

// Requester identifies the owner of a lock request and carries the metadata
// that introspection filters on.
type Requester struct {
	ID   uuid.UUID     `json:"id"`
	Kind RequesterKind `json:"kind"`
	// Op is the operation on whose behalf locks are requested, e.g.
	// "insert" or "drop".
	Op string `json:"op,omitempty"`
	// Session is the client session, if any.
	Session string `json:"session,omitempty"`
}

// NewRequester returns a Requester with a fresh ID.
func NewRequester(kind RequesterKind, op, session string) Requester {
	return Requester{ID: uuid.New(), Kind: kind, Op: op, Session: session}
}

// String renders the session name when there is one, and otherwise the
// operation followed by a short ID.
func (r Requester) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements redact.SafeFormatter.
func (r Requester) SafeFormat(w redact.SafePrinter, _ rune) {
	if r.Session != "" {
		w.Print(r.Session)
		return
	}
	w.Printf("%s:%s", redact.SafeString(r.Op), redact.SafeString(r.ID.String()[:8]))
}

// Request is a single lock request.
type Request struct {
	Requester Requester
	Resource  lock.Resource
	Mode      lock.Mode
	// Deadline bounds the time spent waiting for the lock. The zero value
	// waits indefinitely.
	Deadline time.Time
}

func (r Request) validate() error {
	if r.Requester.ID == uuid.Nil {
		return errors.AssertionFailedf("lock request without requester ID")
	}
	if r.Mode <= lock.None || r.Mode > lock.MaxMode {
		return errors.AssertionFailedf("invalid lock mode %d", errors.Safe(int(r.Mode)))
	}
	if r.Resource.DB == "" {
		return errors.AssertionFailedf("lock request without resource")
	}
	return nil
}

// Grant describes a lock that was acquired.
type Grant struct {
	Requester uuid.UUID
	Resource  lock.Resource
	Mode      lock.Mode
}

// Target returns the resource and mode of the grant.
func (g Grant) Target() lock.Target {
	return lock.Target{Resource: g.Resource, Mode: g.Mode}
}

// Holder is a requester holding a resource, as reported by Manager.Holders.
type Holder struct {
	Requester Requester
	Mode      lock.Mode
}

func (h Holder) String() string {
	return redact.StringWithoutMarkers(h)
}

// SafeFormat implements redact.SafeFormatter.
func (h Holder) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s@%s", h.Requester, h.Mode)
}
