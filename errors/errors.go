// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors constructs errors that remember where they were created.
//
// Use this package instead of the standard errors.New or fmt.Errorf so that
// failures in a long build-deploy-test run can be traced back to their
// origin.
//
//	errors.New("no device attached")
//	errors.Errorf("artifact %s not found", coord)
//	errors.Wrap(err, "failed to install host package")
//	errors.Wrapf(err, "failed to push %s", path)
//
// Formatting an error with "%+v" prints every link of the chain together
// with its stack trace. Is, As and Unwrap forward to the standard library so
// typed errors stay inspectable through wrapping.
package errors

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.vampire.dev/vampire/errors/stack"
)

// impl is the error implementation used by this package.
type impl struct {
	msg   string      // message prepended to cause
	stk   stack.Stack // where the error was created
	cause error       // wrapped error, may be nil
}

// Error implements the error interface.
func (e *impl) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

// Unwrap returns the wrapped error.
func (e *impl) Unwrap() error {
	return e.cause
}

// formatChain formats an error chain with stack traces.
func formatChain(err error) string {
	var chain []string
	for err != nil {
		e, ok := err.(*impl)
		if !ok {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			break
		}
		chain = append(chain, fmt.Sprintf("%s\n%v", e.msg, e.stk))
		err = e.cause
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter. "%+v" prints the chain with stack traces.
func (e *impl) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
	} else {
		io.WriteString(s, e.Error())
	}
}

// New creates a new error with the given message, recording the caller.
func New(msg string) error {
	return &impl{msg, stack.New(1), nil}
}

// Errorf creates a new error with a formatted message, recording the caller.
func Errorf(format string, args ...interface{}) error {
	return &impl{fmt.Sprintf(format, args...), stack.New(1), nil}
}

// Wrap creates a new error with the given message wrapping cause.
// If cause is nil, this is the same as New.
func Wrap(cause error, msg string) error {
	return &impl{msg, stack.New(1), cause}
}

// Wrapf creates a new error with a formatted message wrapping cause.
// If cause is nil, this is the same as Errorf.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &impl{fmt.Sprintf(format, args...), stack.New(1), cause}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling Unwrap on err, if any.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}
