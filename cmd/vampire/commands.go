// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"go.vampire.dev/vampire/internal/command"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/run"
)

// buildCmd implements subcommands.Command to compile tests.
type buildCmd struct {
	opts    options
	libOnly bool
}

var _ = subcommands.Command(&buildCmd{})

func newBuildCmd() *buildCmd { return &buildCmd{} }

func (*buildCmd) Name() string     { return "build" }
func (*buildCmd) Synopsis() string { return "compile the test library and runner" }
func (*buildCmd) Usage() string {
	return `Usage: build [flag]...

Description:
    Cross-compile the test package in the project directory for the
    project's ABI. Nothing is rebuilt when the sources are unchanged.

Flag:
`
}

func (c *buildCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.libOnly, "libonly", false, "only compile the test library, always rebuilding it")
	f.BoolVar(&c.opts.cfg.Debug, "debug", false, "keep debug symbols")
	f.BoolVar(&c.opts.cfg.Force, "force", false, "rebuild even if up to date")
	c.opts.setFlags(f)
}

func (c *buildCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 0 {
		logging.Info(ctx, "Unexpected arguments.\n\n"+c.Usage())
		return subcommands.ExitUsageError
	}
	ctx, s, err := c.opts.start(ctx, c.Name())
	if err != nil {
		return exitStatus(ctx, err)
	}
	defer s.finish(ctx)

	if c.libOnly {
		err = s.run.BuildLibrary(ctx)
	} else {
		err = s.run.Build(ctx)
	}
	if err == nil {
		logging.Info(ctx, "Built ", s.run.Layout().NativeDir())
	}
	return exitStatus(ctx, err)
}

// packageCmd implements subcommands.Command to assemble the host
// application.
type packageCmd struct {
	opts options
}

var _ = subcommands.Command(&packageCmd{})

func newPackageCmd() *packageCmd { return &packageCmd{} }

func (*packageCmd) Name() string     { return "package" }
func (*packageCmd) Synopsis() string { return "build the host application package" }
func (*packageCmd) Usage() string {
	return `Usage: package [flag]...

Description:
    Resolve dependencies, compile the tests and assemble the signed host
    application package embedding them.

Flag:
`
}

func (c *packageCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.opts.cfg.Debug, "debug", false, "keep debug symbols")
	f.BoolVar(&c.opts.cfg.Force, "force", false, "rebuild even if up to date")
	c.opts.setFlags(f)
}

func (c *packageCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 0 {
		logging.Info(ctx, "Unexpected arguments.\n\n"+c.Usage())
		return subcommands.ExitUsageError
	}
	ctx, s, err := c.opts.start(ctx, c.Name())
	if err != nil {
		return exitStatus(ctx, err)
	}
	defer s.finish(ctx)

	fps, err := s.run.Package(ctx)
	if err == nil {
		logging.Infof(ctx, "Wrote %s (%s)", s.run.Layout().APK(), fps.Package[:12])
	}
	return exitStatus(ctx, err)
}

// resolveCmd implements subcommands.Command to resolve dependencies.
type resolveCmd struct {
	opts   options
	tree   bool
	stdout io.Writer
}

var _ = subcommands.Command(&resolveCmd{})

func newResolveCmd(stdout io.Writer) *resolveCmd { return &resolveCmd{stdout: stdout} }

func (*resolveCmd) Name() string     { return "resolve" }
func (*resolveCmd) Synopsis() string { return "resolve dependencies" }
func (*resolveCmd) Usage() string {
	return `Usage: resolve [flag]...

Description:
    Resolve the dependencies declared in vampire.yaml, download them into
    the cache and write vampire.lock.

Flag:
`
}

func (c *resolveCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.tree, "tree", false, "print the dependency tree")
	f.BoolVar(&c.opts.cfg.UpdateLock, "update", false, "ignore vampire.lock and resolve afresh")
	c.opts.setFlags(f)
}

func (c *resolveCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 0 {
		logging.Info(ctx, "Unexpected arguments.\n\n"+c.Usage())
		return subcommands.ExitUsageError
	}
	ctx, s, err := c.opts.start(ctx, c.Name())
	if err != nil {
		return exitStatus(ctx, err)
	}
	defer s.finish(ctx)

	res, err := s.run.Resolve(ctx)
	if err != nil {
		return exitStatus(ctx, err)
	}
	if c.tree {
		if err := res.WriteTree(c.stdout); err != nil {
			return exitStatus(ctx, err)
		}
	}
	return subcommands.ExitSuccess
}

// testCmd implements subcommands.Command to run tests on a device.
type testCmd struct {
	opts   options
	color  string
	stdout io.Writer
	isTerm func() bool
}

var _ = subcommands.Command(&testCmd{})

func newTestCmd(stdout io.Writer) *testCmd {
	return &testCmd{
		stdout: stdout,
		isTerm: func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
	}
}

func (*testCmd) Name() string     { return "test" }
func (*testCmd) Synopsis() string { return "run tests on a device" }
func (*testCmd) Usage() string {
	return `Usage: test [flag]... [filter]

Description:
    Build and package the tests if needed, deploy them to a device and run
    them. Only tests whose names contain filter run.

Exit status:
    0 if every test passed, 1 if any test failed, 3 if the run could not
    complete and 2 for usage errors.

Flag:
`
}

func (c *testCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.opts.cfg.Debug, "debug", false, "keep debug symbols")
	c.opts.cfg.SetTestFlags(f)
	c.opts.setFlags(f)
	cf := command.NewEnumFlag([]string{"auto", "always", "never"}, func(v string) { c.color = v }, "auto")
	f.Var(cf, "color", "colorize results; one of "+cf.QuotedValues())
}

func (c *testCmd) useColor() bool {
	switch c.color {
	case "always":
		return true
	case "never":
		return false
	}
	return c.isTerm()
}

func (c *testCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 1 {
		logging.Info(ctx, "Too many arguments.\n\n"+c.Usage())
		return subcommands.ExitUsageError
	}
	c.opts.cfg.Filter = f.Arg(0)

	ctx, s, err := c.opts.start(ctx, c.Name())
	if err != nil {
		return exitStatus(ctx, err)
	}
	defer s.finish(ctx)

	rep, err := s.run.Test(ctx)
	if werr := rep.WriteSummary(c.stdout, c.useColor()); werr != nil {
		logging.Info(ctx, "Failed to write summary: ", werr)
	}
	logging.Info(ctx, "Results saved to ", s.run.Layout().Results())
	if err != nil {
		return exitStatus(ctx, err)
	}
	if !rep.OK() {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// cleanCmd implements subcommands.Command to remove build outputs.
type cleanCmd struct {
	opts options
}

var _ = subcommands.Command(&cleanCmd{})

func newCleanCmd() *cleanCmd { return &cleanCmd{} }

func (*cleanCmd) Name() string     { return "clean" }
func (*cleanCmd) Synopsis() string { return "remove build outputs" }
func (*cleanCmd) Usage() string {
	return `Usage: clean [flag]...

Description:
    Remove the output directory. The artifact cache is kept.

Flag:
`
}

func (c *cleanCmd) SetFlags(f *flag.FlagSet) {
	c.opts.setFlags(f)
}

func (c *cleanCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	r, err := run.New(&c.opts.cfg)
	if err != nil {
		return exitStatus(ctx, err)
	}
	return exitStatus(ctx, r.Clean(ctx))
}
