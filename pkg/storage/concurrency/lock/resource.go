// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package lock

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// Resource names a lockable unit: a database, or a collection within a
// database. A Resource with an empty Collection names the database itself.
//
// Resources are totally ordered by Compare. That order is the single lock
// hierarchy: a requester acquiring several resources must do so in
// increasing order, which rules out deadlocks between multi-resource
// acquisitions.
type Resource struct {
	DB         string
	Collection string
}

// DB returns the resource for the named database.
func DB(name string) Resource {
	return Resource{DB: name}
}

// Collection returns the resource for the named collection.
func Collection(db, coll string) Resource {
	return Resource{DB: db, Collection: coll}
}

// ParseResource parses "db" or "db.collection". Collection names may
// themselves contain dots; only the first dot separates the database.
func ParseResource(s string) (Resource, error) {
	db, coll, found := strings.Cut(s, ".")
	if db == "" {
		return Resource{}, errors.Newf("invalid resource %q: empty database name", s)
	}
	if found && coll == "" {
		return Resource{}, errors.Newf("invalid resource %q: empty collection name", s)
	}
	return Resource{DB: db, Collection: coll}, nil
}

// IsDatabase returns whether r names a database.
func (r Resource) IsDatabase() bool {
	return r.Collection == ""
}

// Parent returns the database owning r. The parent of a database is the
// database itself.
func (r Resource) Parent() Resource {
	return DB(r.DB)
}

// Contains returns whether o is r or, if r is a database, a collection in it.
func (r Resource) Contains(o Resource) bool {
	if r.IsDatabase() {
		return r.DB == o.DB
	}
	return r == o
}

// Compare orders resources by database name and then collection name. A
// database sorts before all of its collections.
func (r Resource) Compare(o Resource) int {
	if c := strings.Compare(r.DB, o.DB); c != 0 {
		return c
	}
	return strings.Compare(r.Collection, o.Collection)
}

// Less returns whether r sorts before o.
func (r Resource) Less(o Resource) bool {
	return r.Compare(o) < 0
}

// String implements fmt.Stringer.
func (r Resource) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements redact.SafeFormatter. Resource names are not
// considered sensitive.
func (r Resource) SafeFormat(w redact.SafePrinter, _ rune) {
	w.SafeString(redact.SafeString(r.DB))
	if !r.IsDatabase() {
		w.SafeRune('.')
		w.SafeString(redact.SafeString(r.Collection))
	}
}

var _ redact.SafeFormatter = Resource{}

// MarshalText implements encoding.TextMarshaler.
func (r Resource) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resource) UnmarshalText(b []byte) error {
	parsed, err := ParseResource(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Target is a resource together with the mode in which it must be held.
type Target struct {
	Resource Resource
	Mode     Mode
}

func (t Target) String() string {
	return redact.StringWithoutMarkers(t)
}

// SafeFormat implements redact.SafeFormatter.
func (t Target) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s@%s", t.Resource, t.Mode)
}

// Expand returns the full set of targets that must be held to hold every
// target in ts: each collection target implies an intent on its database
// (see Mode.Intent). The result is de-duplicated, keeping the strongest
// mode per resource, and sorted into the global resource order.
func Expand(ts []Target) []Target {
	modes := make(map[Resource]Mode, 2*len(ts))
	add := func(r Resource, m Mode) {
		if m == None {
			return
		}
		modes[r] = Max(modes[r], m)
	}
	for _, t := range ts {
		add(t.Resource, t.Mode)
		if !t.Resource.IsDatabase() {
			add(t.Resource.Parent(), t.Mode.Intent())
		}
	}
	out := make([]Target, 0, len(modes))
	for r, m := range modes {
		out = append(out, Target{Resource: r, Mode: m})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Resource.Less(out[j].Resource)
	})
	return out
}

// ValidateOrder returns an error naming the first pair of targets which is
// not in strictly increasing global order.
func ValidateOrder(ts []Target) error {
	for i := 1; i < len(ts); i++ {
		if !ts[i-1].Resource.Less(ts[i].Resource) {
			return errors.Newf("%s is not ordered before %s", ts[i-1].Resource, ts[i].Resource)
		}
	}
	return nil
}
