// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the vampire executable, used to build native test
// suites, deploy them to Android devices and run them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/crypto/ssh/terminal"

	"go.vampire.dev/vampire/internal/command"
	"go.vampire.dev/vampire/internal/logging"
)

// Version is the version info of this command. It is filled in at link time.
var Version = "<unknown>"

// exitRunFailure is returned when a run could not complete.
const exitRunFailure subcommands.ExitStatus = 3

// newLogger creates a logging.Logger writing to the console.
func newLogger(verbose, logTime bool) logging.Logger {
	level := logging.LevelInfo
	if verbose {
		level = logging.LevelDebug
	}
	return logging.NewSinkLogger(level, logTime, logging.NewWriterSink(os.Stdout))
}

// installSignalHandler cancels the run and restores the terminal when the
// process is being terminated by a signal, which prevents deferred functions
// from running.
func installSignalHandler(ctx context.Context, cancel context.CancelFunc) {
	var st *terminal.State
	fd := int(os.Stdin.Fd())
	if terminal.IsTerminal(fd) {
		var err error
		if st, err = terminal.GetState(fd); err != nil {
			logging.Info(ctx, "Failed to get terminal state: ", err)
		}
	}
	command.InstallSignalHandler(os.Stderr, func(os.Signal) {
		cancel()
		if st != nil {
			terminal.Restore(fd, st)
		}
	})
}

// doMain implements the main body of the program. It's a separate function so
// that its deferred functions will run before os.Exit makes the program exit
// immediately.
func doMain() int {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(newBuildCmd(), "")
	subcommands.Register(newPackageCmd(), "")
	subcommands.Register(newResolveCmd(os.Stdout), "")
	subcommands.Register(newTestCmd(os.Stdout), "")
	subcommands.Register(newCleanCmd(), "")

	version := flag.Bool("version", false, "print version and exit")
	verbose := flag.Bool("verbose", false, "use verbose logging")
	logTime := flag.Bool("logtime", false, "include date/time headers in logs")
	flag.Parse()

	if *version {
		fmt.Printf("vampire version %s\n", Version)
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logging.AttachLogger(ctx, newLogger(*verbose, *logTime))

	installSignalHandler(ctx, cancel)

	return int(subcommands.Execute(ctx))
}

func main() {
	os.Exit(doMain())
}
