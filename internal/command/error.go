// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"io"
)

// StatusError is an error carrying the exit status to use for it.
type StatusError struct {
	msg    string
	status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %v)", e.msg, e.status)
}

// Status returns the exit status.
func (e *StatusError) Status() int {
	return e.status
}

// NewStatusErrorf returns a StatusError with a formatted message.
func NewStatusErrorf(status int, format string, args ...interface{}) *StatusError {
	return &StatusError{fmt.Sprintf(format, args...), status}
}

// WriteError writes err's message to w followed by a newline and returns the
// exit status to use: the StatusError's status, or 1 for other errors.
func WriteError(w io.Writer, err error) int {
	msg := err.Error()
	status := 1
	if se, ok := err.(*StatusError); ok {
		msg = se.msg
		status = se.status
	}
	if len(msg) > 0 && msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	io.WriteString(w, msg)
	return status
}
