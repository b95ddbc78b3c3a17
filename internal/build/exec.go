// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"

	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/shutil"
)

// Cmd describes an external tool invocation.
type Cmd struct {
	Name string
	Args []string
	// Dir is the working directory. If empty, the current directory is used.
	Dir string
	// Env is appended to the environment of the current process.
	Env []string
}

func (c *Cmd) String() string {
	return shutil.Command(c.Name, c.Args...)
}

// Runner runs external tools.
type Runner interface {
	// Run runs cmd to completion and returns its combined output.
	Run(ctx context.Context, cmd *Cmd) ([]byte, error)
}

// ExecRunner runs tools as local subprocesses.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, c *Cmd) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	return cmd.CombinedOutput()
}

// Error is returned when an external tool fails. Output holds everything
// the tool printed.
type Error struct {
	Cmd    string
	Output []byte
	Err    error
}

func (e *Error) Error() string {
	out := bytes.TrimSpace(e.Output)
	if len(out) == 0 {
		return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Cmd, e.Err, out)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Exec runs cmd with r. A failure is returned as *Error.
func Exec(ctx context.Context, r Runner, cmd *Cmd) ([]byte, error) {
	logging.Debug(ctx, "Running ", cmd.String())
	out, err := r.Run(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return out, &Error{Cmd: cmd.String(), Output: out, Err: err}
	}
	return out, nil
}
