// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package lock

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Mode is the strength with which a resource is locked. Modes are ordered by
// strength: Shared < IntentExclusive < Exclusive.
//
// The compatibility matrix is:
//
//	          | S | IX | X |
//	----------+---+----+---+
//	Shared    | ✓ | ✓  | ✗ |
//	IntentExcl| ✓ | ✓  | ✗ |
//	Exclusive | ✗ | ✗  | ✗ |
type Mode int8

const (
	// None is the absence of a lock. It is only used to describe the state
	// of a requester that holds nothing on a resource.
	None Mode = iota
	// Shared is held by readers that require the resource not to change
	// shape underneath them.
	Shared
	// IntentExclusive is held by a transaction writing to the resource.
	IntentExclusive
	// Exclusive is held by schema-modifying operations that require sole
	// access to the resource.
	Exclusive
)

// MaxMode is the strongest mode.
const MaxMode = Exclusive

var modeNames = [...]string{
	None:            "None",
	Shared:          "S",
	IntentExclusive: "IX",
	Exclusive:       "X",
}

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "Mode(?)"
	}
	return modeNames[m]
}

// SafeValue implements redact.SafeValue.
func (Mode) SafeValue() {}

var _ redact.SafeValue = Mode(0)

// ParseMode parses the short (S, IX, X) or long (Shared, IntentExclusive,
// Exclusive) name of a mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "s", "shared":
		return Shared, nil
	case "ix", "intentexclusive":
		return IntentExclusive, nil
	case "x", "exclusive":
		return Exclusive, nil
	}
	return None, errors.Newf("unknown lock mode %q", s)
}

// Conflicts returns whether a lock held in mode m prevents another requester
// from holding the resource in mode o. Exclusive conflicts with everything,
// including another Exclusive; the other modes only conflict with Exclusive.
func (m Mode) Conflicts(o Mode) bool {
	if m == None || o == None {
		return false
	}
	return m == Exclusive || o == Exclusive
}

// Stronger returns whether m is strictly stronger than o.
func (m Mode) Stronger(o Mode) bool {
	return m > o
}

// Max returns the stronger of m and o.
func Max(m, o Mode) Mode {
	if m.Stronger(o) {
		return m
	}
	return o
}

// Intent returns the mode that a lock in mode m on a collection implies on
// the collection's database.
func (m Mode) Intent() Mode {
	switch m {
	case Shared:
		return Shared
	case IntentExclusive, Exclusive:
		return IntentExclusive
	default:
		return None
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
