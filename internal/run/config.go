// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"

	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/device"
	"go.vampire.dev/vampire/internal/sdk"
)

// Default stage timeouts.
const (
	defaultResolveTimeout = 10 * time.Minute
	defaultCompileTimeout = 10 * time.Minute
	defaultPackageTimeout = 10 * time.Minute
	defaultDeployTimeout  = 5 * time.Minute
	defaultLaunchTimeout  = 5 * time.Minute
)

// Timeouts bound each stage of a run.
type Timeouts struct {
	Resolve time.Duration
	Compile time.Duration
	Package time.Duration
	// Deploy covers connecting, installing and pushing.
	Deploy time.Duration
	// Launch bounds the on-device test run.
	Launch time.Duration
}

// ConnectFunc connects to a device.
type ConnectFunc func(ctx context.Context, serial string, cfg *device.Config) (*device.Driver, error)

// Config contains settings for a run.
type Config struct {
	// ProjectDir is the directory containing vampire.yaml.
	ProjectDir string
	// OutDir is the output directory. It is relative to ProjectDir unless
	// absolute; empty selects the default.
	OutDir string
	// CacheDir is the artifact cache directory.
	CacheDir string
	// Device is the serial of the device to test on. Empty selects the only
	// attached device.
	Device string
	// Force rebuilds and redeploys everything.
	Force bool
	// NoCapture shows the runner's full device log.
	NoCapture bool
	// Filter selects tests whose name contains it.
	Filter string
	// UpdateLock resolves dependencies afresh instead of replaying the lock
	// file.
	UpdateLock bool
	// Workers bounds concurrent downloads.
	Workers  int
	Timeouts Timeouts
	// Debug builds the test library with symbols.
	Debug bool
	// BuildEnv holds extra environment variables for the Go command.
	BuildEnv map[string]string

	// SDK is the Android SDK to use. It is located from the environment
	// when nil.
	SDK *sdk.SDK
	// Keystore is the signing keystore. The debug keystore is used when
	// empty.
	Keystore string
	// Tools runs the Go command and the Android tools. Defaults to
	// build.ExecRunner.
	Tools build.Runner
	// Connect connects to devices. Defaults to device.Connect.
	Connect ConnectFunc
	// HTTPClient downloads artifacts. Defaults to cache.NewHTTPClient().
	HTTPClient *http.Client
	// Clock provides the current time. Defaults to the real clock.
	Clock clock.Clock
}

// DefaultCacheDir returns the default artifact cache directory.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "vampire", "maven")
	}
	return filepath.Join(os.TempDir(), "vampire", "maven")
}

// SetFlags adds flags shared by all commands to f.
func (c *Config) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.ProjectDir, "project", ".", "directory containing vampire.yaml")
	f.StringVar(&c.OutDir, "outdir", "", "output directory (default target/vampire in the project)")
	f.StringVar(&c.CacheDir, "cachedir", DefaultCacheDir(), "artifact cache directory")
	f.IntVar(&c.Workers, "workers", 8, "maximum concurrent downloads")
	f.DurationVar(&c.Timeouts.Resolve, "resolvetimeout", defaultResolveTimeout, "timeout for resolving dependencies")
	f.DurationVar(&c.Timeouts.Compile, "compiletimeout", defaultCompileTimeout, "timeout for compiling tests")
	f.DurationVar(&c.Timeouts.Package, "packagetimeout", defaultPackageTimeout, "timeout for packaging the host application")
}

// SetTestFlags adds flags used when running tests to f.
func (c *Config) SetTestFlags(f *flag.FlagSet) {
	f.StringVar(&c.Device, "device", "", "serial of the device to test on")
	f.BoolVar(&c.Force, "force", false, "rebuild and redeploy everything")
	f.BoolVar(&c.NoCapture, "nocapture", false, "show the full device log of the runner")
	f.DurationVar(&c.Timeouts.Deploy, "deploytimeout", defaultDeployTimeout, "timeout for deploying to the device")
	f.DurationVar(&c.Timeouts.Launch, "timeout", defaultLaunchTimeout, "timeout for running the tests")
}

func (c *Config) withDefaults() *Config {
	d := *c
	if d.ProjectDir == "" {
		d.ProjectDir = "."
	}
	if d.CacheDir == "" {
		d.CacheDir = DefaultCacheDir()
	}
	t := &d.Timeouts
	for _, p := range []struct {
		v   *time.Duration
		def time.Duration
	}{
		{&t.Resolve, defaultResolveTimeout},
		{&t.Compile, defaultCompileTimeout},
		{&t.Package, defaultPackageTimeout},
		{&t.Deploy, defaultDeployTimeout},
		{&t.Launch, defaultLaunchTimeout},
	} {
		if *p.v <= 0 {
			*p.v = p.def
		}
	}
	if d.Tools == nil {
		d.Tools = build.ExecRunner{}
	}
	if d.Connect == nil {
		d.Connect = device.Connect
	}
	if d.Clock == nil {
		d.Clock = clock.NewClock()
	}
	return &d
}
