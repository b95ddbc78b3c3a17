// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !linux

package runner

import "os"

// Redirection is an active redirection of the process's stdout and stderr.
type Redirection struct {
	// Stdout and Stderr refer to the original standard streams.
	Stdout *os.File
	Stderr *os.File
	// Lines never delivers anything and is closed by Close.
	Lines <-chan string

	lines chan string
}

// RedirectOutput does not redirect on this platform; test output goes to
// the original streams.
func RedirectOutput() (*Redirection, error) {
	lines := make(chan string)
	return &Redirection{Stdout: os.Stdout, Stderr: os.Stderr, Lines: lines, lines: lines}, nil
}

// Close closes Lines.
func (r *Redirection) Close() error {
	close(r.lines)
	return nil
}
