// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package exit defines the process exit codes of the lockarbiter binary.
package exit

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
)

// Code represents an exit code.
type Code struct {
	code int
}

// String implements the fmt.Stringer interface.
func (c Code) String() string { return fmt.Sprint(c.code) }

// Int returns the numeric value of the exit code.
func (c Code) Int() int { return c.code }

// WithCode terminates the process with the given exit code.
func WithCode(code Code) {
	os.Exit(code.code)
}

type withCode struct {
	cause error
	code  Code
}

func (e *withCode) Error() string { return e.cause.Error() }
func (e *withCode) Cause() error  { return e.cause }
func (e *withCode) Unwrap() error { return e.cause }

// WrapWithCode annotates err with the code the process should exit with.
func WrapWithCode(err error, code Code) error {
	if err == nil {
		return nil
	}
	return &withCode{cause: err, code: code}
}

// FromError returns the exit code annotated on err, or UnspecifiedError.
// A nil error is Success.
func FromError(err error) Code {
	if err == nil {
		return Success()
	}
	var wc *withCode
	if errors.As(err, &wc) {
		return wc.code
	}
	return UnspecifiedError()
}
