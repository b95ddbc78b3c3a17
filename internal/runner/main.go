// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.vampire.dev/vampire/internal/command"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/protocol"
)

const (
	statusSuccess = 0 // a payload was written
	statusBadArgs = 2 // bad arguments were passed to the runner
)

// outputPrefix marks lines printed by tests in the runner's log.
const outputPrefix = "[output] "

// Main runs vampire_runner with the command-line arguments clArgs and
// returns the process exit status. clArgs should typically be os.Args[1:].
func Main(clArgs []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdout, stderr := io.Writer(os.Stdout), io.Writer(os.Stderr)
	redir, err := RedirectOutput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to capture test output: %v\n", err)
	} else {
		stdout, stderr = redir.Stdout, redir.Stderr
	}
	command.InstallSignalHandler(stderr, func(os.Signal) { cancel() })

	logger := newLevelLogger(stderr)
	ctx = logging.AttachLogger(ctx, logger)

	forwarded := make(chan struct{})
	if redir != nil {
		go func() {
			defer close(forwarded)
			for line := range redir.Lines {
				logger.Log(logging.LevelInfo, time.Now(), outputPrefix+line)
			}
		}()
	} else {
		close(forwarded)
	}

	status := execute(ctx, clArgs, PluginLoader{}, stdout, stderr)

	if redir != nil {
		redir.Close()
	}
	<-forwarded
	return status
}

// newLevelLogger returns a logger writing each entry to w as one line
// prefixed with its level letter. The host application maps the letter to
// a device log priority.
func newLevelLogger(w io.Writer) logging.Logger {
	sink := logging.NewWriterSink(w)
	return logging.NewFuncLogger(func(level logging.Level, ts time.Time, msg string) {
		sink.Log(level.String() + " " + msg)
	})
}

// execute parses clArgs, performs the launch with loader and writes the
// payload to stdout.
func execute(ctx context.Context, clArgs []string, loader Loader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("vampire_runner", flag.ContinueOnError)
	flags.SetOutput(stderr)
	args := &protocol.LaunchArgs{}
	flags.StringVar(&args.LibPath, protocol.ArgLibPath, "", "path to the test library")
	flags.StringVar(&args.TestFilter, protocol.ArgTestFilter, "", "run only tests whose name contains this string")
	if err := flags.Parse(clArgs); err != nil {
		return statusBadArgs
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(stderr, "Unexpected arguments: %q\n", flags.Args())
		return statusBadArgs
	}

	p := Run(ctx, loader, args)
	if p.Status == protocol.StatusCancelled {
		logging.Error(ctx, "Run cancelled: ", p.Error)
	}
	b, err := p.Marshal()
	if err != nil {
		return command.WriteError(stderr, err)
	}
	if _, err := fmt.Fprintf(stdout, "%s\n", b); err != nil {
		return command.WriteError(stderr, err)
	}
	return statusSuccess
}
