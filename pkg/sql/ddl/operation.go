// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ddl

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/lockarbiter/pkg/storage/concurrency/lock"
	"github.com/cockroachdb/redact"
)

// Kind identifies a schema change.
type Kind int8

const (
	// Drop drops a collection.
	Drop Kind = iota + 1
	// DropDatabase drops a database and all of its collections.
	DropDatabase
	// RenameCollection renames a collection, possibly into another
	// database.
	RenameCollection
	// CreateIndexes builds indexes on a collection.
	CreateIndexes
	// DropIndexes drops indexes of a collection.
	DropIndexes
)

var kindNames = map[Kind]string{
	Drop:             "drop",
	DropDatabase:     "dropDatabase",
	RenameCollection: "renameCollection",
	CreateIndexes:    "createIndexes",
	DropIndexes:      "dropIndexes",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// SafeValue implements redact.SafeValue.
func (Kind) SafeValue() {}

// Kinds returns every Kind in declaration order.
func Kinds() []Kind {
	return []Kind{Drop, DropDatabase, RenameCollection, CreateIndexes, DropIndexes}
}

// ParseKind parses the name of a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, errors.Newf("unknown DDL operation %q", s)
}

// DeadlinePolicy says whether an operation kind bounds its lock wait by
// the caller's maxTime.
type DeadlinePolicy int8

const (
	// HonorMaxTime bounds the lock wait by maxTime.
	HonorMaxTime DeadlinePolicy = iota
	// IgnoreMaxTime always waits until the locks are granted.
	IgnoreMaxTime
)

func (p DeadlinePolicy) String() string {
	if p == IgnoreMaxTime {
		return "ignore"
	}
	return "honor"
}

// SafeValue implements redact.SafeValue.
func (DeadlinePolicy) SafeValue() {}

// Policy returns the deadline policy of k. dropDatabase waits for its
// locks regardless of maxTime; every other kind honors it.
func (k Kind) Policy() DeadlinePolicy {
	if k == DropDatabase {
		return IgnoreMaxTime
	}
	return HonorMaxTime
}

// Body is the part of a schema change that runs while its locks are held.
type Body func(ctx context.Context) error

// Operation is a schema change together with the resources it needs
// exclusively.
type Operation struct {
	Kind Kind
	// Resources are locked in Exclusive mode. Their order does not matter.
	Resources []lock.Resource
	// Session is the client session issuing the operation, if any.
	Session string
	// Body may be nil.
	Body Body
}

// String implements fmt.Stringer.
func (o Operation) String() string {
	return redact.StringWithoutMarkers(o)
}

// SafeFormat implements redact.SafeFormatter.
func (o Operation) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s", o.Kind)
	for i, r := range o.Resources {
		if i == 0 {
			w.SafeRune(' ')
		} else {
			w.SafeRune(',')
		}
		w.Print(r)
	}
}

// DropOp drops coll.
func DropOp(coll lock.Resource, body Body) Operation {
	return Operation{Kind: Drop, Resources: []lock.Resource{coll}, Body: body}
}

// DropDatabaseOp drops db.
func DropDatabaseOp(db lock.Resource, body Body) Operation {
	return Operation{Kind: DropDatabase, Resources: []lock.Resource{db}, Body: body}
}

// RenameCollectionOp renames from to to. Within a database it locks both
// collections; across databases it locks both databases, which the lock
// table acquires in global order.
func RenameCollectionOp(from, to lock.Resource, body Body) Operation {
	res := []lock.Resource{from, to}
	if from.DB != to.DB {
		res = []lock.Resource{from.Parent(), to.Parent()}
	}
	return Operation{Kind: RenameCollection, Resources: res, Body: body}
}

// CreateIndexesOp builds indexes on coll.
func CreateIndexesOp(coll lock.Resource, body Body) Operation {
	return Operation{Kind: CreateIndexes, Resources: []lock.Resource{coll}, Body: body}
}

// DropIndexesOp drops indexes of coll.
func DropIndexesOp(coll lock.Resource, body Body) Operation {
	return Operation{Kind: DropIndexes, Resources: []lock.Resource{coll}, Body: body}
}

func (o Operation) validate() error {
	if _, ok := kindNames[o.Kind]; !ok {
		return errors.AssertionFailedf("unknown DDL operation kind %d", errors.Safe(int(o.Kind)))
	}
	if len(o.Resources) == 0 {
		return errors.AssertionFailedf("%s without resources", o.Kind)
	}
	for _, r := range o.Resources {
		if r.DB == "" {
			return errors.AssertionFailedf("%s on a resource without database", o.Kind)
		}
		switch o.Kind {
		case DropDatabase:
			if !r.IsDatabase() {
				return errors.AssertionFailedf("%s cannot lock %s", o.Kind, r)
			}
		case Drop, CreateIndexes, DropIndexes:
			if r.IsDatabase() {
				return errors.AssertionFailedf("%s cannot lock %s", o.Kind, r)
			}
		}
	}
	return nil
}
