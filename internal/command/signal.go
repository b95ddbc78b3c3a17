// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains helpers shared by vampire's executables.
package command

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

var selfName = filepath.Base(os.Args[0])

// InstallSignalHandler runs callback when SIGINT or SIGTERM is received,
// then exits with status 1. On SIGTERM it also dumps goroutines to out and
// terminates child processes such as adb, javac or d8.
func InstallSignalHandler(out io.Writer, callback func(sig os.Signal)) {
	ch := make(chan os.Signal, 1)
	go func() {
		sig := <-ch
		fmt.Fprintf(out, "\n%s: Caught %v signal; exiting\n", selfName, sig)
		callback(sig)
		if sig == unix.SIGTERM {
			handleSIGTERM(out)
		}
		os.Exit(1)
	}()
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
}

func handleSIGTERM(out io.Writer) {
	fmt.Fprintf(out, "\n%s: Dumping all goroutines...\n\n", selfName)
	if p := pprof.Lookup("goroutine"); p != nil {
		p.WriteTo(out, 2)
	}
	fmt.Fprintf(out, "\n%s: Finished dumping goroutines\n", selfName)

	if err := terminateChildren(int32(os.Getpid())); err != nil {
		fmt.Fprintf(out, "Failed to terminate subprocesses: %v\n", err)
	}
}

// terminateChildren sends SIGTERM to every direct child of pid.
func terminateChildren(pid int32) error {
	procs, err := process.Processes()
	if err != nil {
		return err
	}
	for _, proc := range procs {
		ppid, err := proc.Ppid()
		if err != nil {
			continue
		}
		if ppid == pid {
			proc.Terminate()
		}
	}
	return nil
}
