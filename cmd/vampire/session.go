// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/google/subcommands"

	"go.vampire.dev/vampire/internal/command"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/run"
	"go.vampire.dev/vampire/internal/timing"
)

// options holds flags shared by all commands operating on a project.
type options struct {
	cfg      run.Config
	buildEnv command.KeyValueFlag
}

func (o *options) setFlags(f *flag.FlagSet) {
	o.cfg.SetFlags(f)
	o.buildEnv = command.KeyValueFlag{}
	f.Var(o.buildEnv, "env", `extra "KEY=VALUE" environment for the Go command (repeatable)`)
}

// session is a single command invocation against a project.
type session struct {
	run *run.Run
	tl  *timing.Log
	st  *timing.Stage
	log *os.File
}

// start loads the project and sets up the full log and the timing log in the
// output directory. The caller must call finish.
func (o *options) start(ctx context.Context, name string) (context.Context, *session, error) {
	o.cfg.BuildEnv = o.buildEnv
	r, err := run.New(&o.cfg)
	if err != nil {
		return ctx, nil, err
	}
	s := &session{run: r, tl: timing.NewLog()}
	ctx = timing.NewContext(ctx, s.tl)
	ctx, s.st = timing.Start(ctx, name)

	if err := os.MkdirAll(r.Layout().Dir, 0755); err != nil {
		return ctx, nil, err
	}
	if s.log, err = os.Create(r.Layout().FullLog()); err != nil {
		return ctx, nil, err
	}
	ctx = logging.AttachLogger(ctx, logging.NewSinkLogger(logging.LevelDebug, true, logging.NewWriterSink(s.log)))
	logging.Debug(ctx, "Command line: ", strings.Join(os.Args, " "))
	return ctx, s, nil
}

// finish writes the timing log and closes the full log.
func (s *session) finish(ctx context.Context) {
	s.st.End()
	if f, err := os.Create(s.run.Layout().Timing()); err != nil {
		logging.Info(ctx, err)
	} else {
		if err := s.tl.WritePretty(f); err != nil {
			logging.Info(ctx, err)
		}
		f.Close()
	}
	s.log.Close()
}

// exitStatus reports err and returns the exit status for it.
func exitStatus(ctx context.Context, err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}
	if kind := run.KindOf(err); kind != "" {
		logging.Errorf(ctx, "%s: %v", kind, err)
		if kind == run.KindConfig {
			return subcommands.ExitUsageError
		}
		return exitRunFailure
	}
	logging.Error(ctx, err)
	return exitRunFailure
}
