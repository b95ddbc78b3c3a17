// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"bufio"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"go.vampire.dev/vampire/errors"
)

var (
	redirectOnce sync.Once
	redirectOut  *Redirection
	redirectErr  error
)

// Redirection is an active redirection of the process's stdout and stderr.
type Redirection struct {
	// Stdout and Stderr refer to the original standard streams.
	Stdout *os.File
	Stderr *os.File

	// Lines receives captured output line by line. It is closed after
	// Close once everything written before has been delivered.
	Lines <-chan string

	pw *os.File
}

// RedirectOutput redirects file descriptors 1 and 2 of the process into a
// pipe whose lines are delivered on Lines. Test code writing to os.Stdout
// or os.Stderr, including from C code, ends up there.
//
// The redirection is process-wide and is set up at most once; later calls
// return the first Redirection. Close restores the original descriptors.
func RedirectOutput() (*Redirection, error) {
	redirectOnce.Do(func() {
		redirectOut, redirectErr = redirect()
	})
	return redirectOut, redirectErr
}

func redirect() (*Redirection, error) {
	stdoutFD, err := unix.Dup(unix.Stdout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to save stdout")
	}
	stderrFD, err := unix.Dup(unix.Stderr)
	if err != nil {
		unix.Close(stdoutFD)
		return nil, errors.Wrap(err, "failed to save stderr")
	}
	unix.CloseOnExec(stdoutFD)
	unix.CloseOnExec(stderrFD)

	pr, pw, err := os.Pipe()
	if err != nil {
		unix.Close(stdoutFD)
		unix.Close(stderrFD)
		return nil, err
	}
	for _, fd := range []int{unix.Stdout, unix.Stderr} {
		if err := unix.Dup3(int(pw.Fd()), fd, 0); err != nil {
			unix.Dup3(stdoutFD, unix.Stdout, 0)
			unix.Dup3(stderrFD, unix.Stderr, 0)
			pr.Close()
			pw.Close()
			return nil, errors.Wrap(err, "failed to redirect output")
		}
	}

	lines := make(chan string, 256)
	r := &Redirection{
		Stdout: os.NewFile(uintptr(stdoutFD), "stdout"),
		Stderr: os.NewFile(uintptr(stderrFD), "stderr"),
		Lines:  lines,
		pw:     pw,
	}
	go func() {
		defer close(lines)
		defer pr.Close()
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		// Keep writers from blocking after an overlong line.
		io.Copy(io.Discard, pr)
	}()
	return r, nil
}

// Close restores the original stdout and stderr. Lines is closed once the
// remaining output has been delivered.
func (r *Redirection) Close() error {
	var firstErr error
	if err := unix.Dup3(int(r.Stdout.Fd()), unix.Stdout, 0); err != nil {
		firstErr = err
	}
	if err := unix.Dup3(int(r.Stderr.Fd()), unix.Stderr, 0); err != nil && firstErr == nil {
		firstErr = err
	}
	// The pipe stays open while fds 1 and 2 refer to it.
	if err := r.pw.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
