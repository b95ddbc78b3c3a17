// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package build compiles test packages and the on-device runner for Android.
package build

import (
	"context"
	"os"
	"path/filepath"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/sdk"
	"go.vampire.dev/vampire/internal/timing"
)

// RunnerPkg is the Go package of the on-device runner.
const RunnerPkg = "go.vampire.dev/vampire/cmd/vampire_runner"

// RunnerLibName is the file name the runner is shipped under. The Android
// package manager only extracts files named lib*.so from an application's
// native library directory.
const RunnerLibName = "libvampire_runner.so"

// Mode selects what kind of binary a Target produces.
type Mode int

const (
	// ModeExe builds an executable.
	ModeExe Mode = iota
	// ModePlugin builds a Go plugin that can be loaded at run time.
	ModePlugin
)

// Config describes a configuration for building for a device.
type Config struct {
	// SDK is the Android SDK providing the NDK compiler.
	SDK *sdk.SDK
	// ABI is the ABI to build for.
	ABI *sdk.ABI
	// API is the minimum Android API level the code runs on.
	API int
	// Runner runs the Go command. If nil, ExecRunner is used.
	Runner Runner
	// GoCommand is the Go command. If empty, "go" is used.
	GoCommand string
	// Debug indicates whether binaries keep their debug symbols.
	Debug bool
	// Env holds extra "KEY=VALUE" variables for the Go command, e.g.
	// GOFLAGS. They take precedence over the cross-compilation settings.
	Env []string
}

// Target describes a Go package to build.
type Target struct {
	// Pkg is the package pattern to build, resolved relative to Dir.
	Pkg string
	// Dir is the directory within the Go module containing Pkg.
	Dir string
	// Mode selects the kind of binary to build.
	Mode Mode
	// Out is the path to save the built binary to.
	Out string
}

func (c *Config) runner() Runner {
	if c.Runner == nil {
		return ExecRunner{}
	}
	return c.Runner
}

func (c *Config) goCommand() string {
	if c.GoCommand == "" {
		return "go"
	}
	return c.GoCommand
}

// env returns the environment variables for cross-compiling for the device.
func (c *Config) env() ([]string, error) {
	cc, err := c.SDK.Clang(c.ABI, c.API)
	if err != nil {
		return nil, err
	}
	env := []string{"GOOS=android", "CGO_ENABLED=1", "CC=" + cc}
	env = append(env, c.ABI.GoEnv...)
	return append(env, c.Env...), nil
}

// Build builds tgts in order. Targets share flags so that a plugin can be
// loaded by an executable built in the same call.
func Build(ctx context.Context, cfg *Config, tgts []*Target) error {
	ctx, st := timing.Start(ctx, "build")
	defer st.End()

	env, err := cfg.env()
	if err != nil {
		return err
	}
	for _, tgt := range tgts {
		if err := buildOne(ctx, cfg, env, tgt); err != nil {
			return errors.Wrapf(err, "failed to build %s", tgt.Pkg)
		}
	}
	return nil
}

func buildOne(ctx context.Context, cfg *Config, env []string, tgt *Target) error {
	ctx, st := timing.Start(ctx, filepath.Base(tgt.Out))
	defer st.End()

	if err := os.MkdirAll(filepath.Dir(tgt.Out), 0755); err != nil {
		return err
	}
	args := []string{"build", "-trimpath"}
	if tgt.Mode == ModePlugin {
		args = append(args, "-buildmode=plugin")
	}
	if !cfg.Debug {
		args = append(args, "-ldflags=-s -w")
	}
	args = append(args, "-o", tgt.Out, tgt.Pkg)

	logging.Infof(ctx, "Building %s for %s", tgt.Pkg, cfg.ABI.Name)
	_, err := Exec(ctx, cfg.runner(), &Cmd{Name: cfg.goCommand(), Args: args, Dir: tgt.Dir, Env: env})
	return err
}
