// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package run drives a project through resolution, compilation, packaging,
// deployment and test execution.
//
// Every stage runs under its own timeout and is skipped when the build
// planner finds its recorded fingerprint still matches and its output is
// present.
package run

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/assemble"
	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/cache"
	"go.vampire.dev/vampire/internal/config"
	"go.vampire.dev/vampire/internal/device"
	"go.vampire.dev/vampire/internal/extract"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/planner"
	"go.vampire.dev/vampire/internal/protocol"
	"go.vampire.dev/vampire/internal/resolve"
	"go.vampire.dev/vampire/internal/sdk"
	"go.vampire.dev/vampire/internal/timing"
	"go.vampire.dev/vampire/internal/xcontext"
)

const (
	// launchGrace is added to the launch timeout for clearing and reading
	// the device log.
	launchGrace = time.Minute
	logTimeout  = 30 * time.Second
)

// Run operates on one project.
type Run struct {
	cfg    *Config
	proj   *config.Project
	layout *config.Layout
	cache  *cache.Cache
}

// New loads the project configuration and returns a Run for it.
func New(cfg *Config) (*Run, error) {
	c := cfg.withDefaults()
	proj, err := config.Load(c.ProjectDir)
	if err != nil {
		return nil, &StageError{Stage: "config", Kind: KindConfig, Err: err}
	}
	return &Run{
		cfg:    c,
		proj:   proj,
		layout: proj.Layout(c.OutDir),
		cache: cache.New(cache.Config{
			Dir:          c.CacheDir,
			Repositories: proj.Repositories,
			Client:       c.HTTPClient,
		}),
	}, nil
}

// Project returns the project configuration.
func (r *Run) Project() *config.Project { return r.proj }

// Layout returns the output layout.
func (r *Run) Layout() *config.Layout { return r.layout }

// stage runs f as the named stage under timeout, recording its timing and
// classifying its error with def as the fallback kind.
func (r *Run) stage(ctx context.Context, name string, timeout time.Duration, def Kind, f func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Stage: name, Kind: def, Err: err}
	}
	ctx, st := timing.Start(ctx, name)
	defer st.End()

	sctx, cancel := xcontext.WithTimeout(ctx, timeout, errors.Errorf("%s: stage timed out after %v", name, timeout))
	defer cancel(errors.Errorf("%s: stage finished", name))

	err := f(sctx)
	if err != nil && sctx.Err() != nil && ctx.Err() == nil {
		err = errors.Wrap(err, sctx.Err().Error())
	}
	return classify(name, def, err)
}

func (r *Run) sdk() (*sdk.SDK, error) {
	if r.cfg.SDK != nil {
		return r.cfg.SDK, nil
	}
	s, err := sdk.Find(sdk.DefaultEnv())
	if err != nil {
		return nil, &StageError{Stage: "sdk", Kind: KindConfig, Err: err}
	}
	r.cfg.SDK = s
	return s, nil
}

// Resolve resolves the declared dependencies. The lock file is replayed
// when it was written for the same declarations, unless the configuration
// asks for a fresh resolution; a fresh resolution rewrites the lock file.
func (r *Run) Resolve(ctx context.Context) (*resolve.Result, error) {
	var res *resolve.Result
	err := r.stage(ctx, "resolve", r.cfg.Timeouts.Resolve, KindResolution, func(ctx context.Context) error {
		rv := resolve.New(resolve.Config{
			Fetcher:           r.cache,
			Workers:           r.cfg.Workers,
			UpgradeCompatible: r.proj.UpgradeCompatible,
		})
		lockPath := filepath.Join(r.proj.Dir, resolve.LockFileName)

		if !r.cfg.UpdateLock {
			l, err := resolve.ReadLock(lockPath)
			if err != nil {
				return err
			}
			if l != nil && l.Matches(r.proj.Dependencies) {
				logging.Debugf(ctx, "Using %s", resolve.LockFileName)
				res, err = rv.ResolveLocked(ctx, l)
				return err
			}
		}

		var err error
		if res, err = rv.Resolve(ctx, r.proj.Dependencies); err != nil {
			return err
		}
		for _, o := range res.Omitted {
			logging.Debugf(ctx, "Omitted %v required by %v in favor of %v", o.Requested, o.Parent, o.Winner)
		}
		return resolve.WriteLock(lockPath, resolve.NewLock(res, r.cache.Repositories(), r.cfg.Clock.Now()))
	})
	if err != nil {
		return nil, err
	}
	logging.Infof(ctx, "Resolved %d dependencies (%d downloaded)", len(res.Dependencies), r.cache.Downloads())
	return res, nil
}

// inputs holds everything the build stages depend on.
type inputs struct {
	sdk   *sdk.SDK
	abi   *sdk.ABI
	deps  []*extract.Contribution
	perms []string
	fps   planner.Fingerprints
}

// prepare gathers the stage inputs. Without withDeps only the compile
// fingerprint is meaningful.
func (r *Run) prepare(ctx context.Context, withDeps bool) (*inputs, error) {
	s, err := r.sdk()
	if err != nil {
		return nil, err
	}
	abi, err := sdk.LookupABI(r.proj.ABI)
	if err != nil {
		return nil, &StageError{Stage: "config", Kind: KindConfig, Err: err}
	}
	src, err := planner.SourceDigest(r.proj.PackageDir())
	if err != nil {
		return nil, &StageError{Stage: "config", Kind: KindConfig, Err: errors.Wrap(err, "failed to read test sources")}
	}
	in := &inputs{sdk: s, abi: abi, perms: r.proj.Permissions}

	var depKeys []string
	if withDeps {
		res, err := r.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		if err := r.stage(ctx, "extract", r.cfg.Timeouts.Resolve, KindResolution, func(ctx context.Context) error {
			for _, d := range res.Dependencies {
				c, err := extract.Extract(ctx, d.Entry)
				if err != nil {
					return errors.Wrapf(err, "failed to extract %v", d.Coordinate)
				}
				in.deps = append(in.deps, c)
				depKeys = append(depKeys, d.Coordinate.String()+"@"+d.Entry.SHA256)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		in.perms = assemble.MergePermissions(r.proj.Permissions, in.deps)
	}

	in.fps = planner.Compute(planner.Inputs{
		SourceDigest: src,
		ABI:          r.proj.ABI,
		SDK:          r.proj.TargetSDK,
		MinSDK:       r.proj.MinSDK,
		Dependencies: depKeys,
		Permissions:  in.perms,
		HostPackage:  r.proj.HostPackage,
	})
	return in, nil
}

func (r *Run) openPlanner() (*planner.Planner, error) {
	if err := os.MkdirAll(r.layout.Dir, 0755); err != nil {
		return nil, err
	}
	return planner.Open(filepath.Join(r.layout.Dir, planner.FileName))
}

func (r *Run) buildConfig(in *inputs) *build.Config {
	keys := maps.Keys(r.cfg.BuildEnv)
	slices.Sort(keys)
	var env []string
	for _, k := range keys {
		env = append(env, k+"="+r.cfg.BuildEnv[k])
	}
	return &build.Config{
		SDK:    in.sdk,
		ABI:    in.abi,
		API:    r.proj.MinSDK,
		Runner: r.cfg.Tools,
		Debug:  r.cfg.Debug,
		Env:    env,
	}
}

// BuildLibrary compiles only the test library. It always rebuilds and does
// not record a fingerprint, since the runner is left untouched.
func (r *Run) BuildLibrary(ctx context.Context) error {
	in, err := r.prepare(ctx, false)
	if err != nil {
		return err
	}
	return r.stage(ctx, "compile", r.cfg.Timeouts.Compile, KindBuild, func(ctx context.Context) error {
		return build.Build(ctx, r.buildConfig(in), []*build.Target{r.libraryTarget()})
	})
}

func (r *Run) libraryTarget() *build.Target {
	return &build.Target{Pkg: ".", Dir: r.proj.PackageDir(), Mode: build.ModePlugin, Out: r.layout.TestLib()}
}

// The runner is built from the test package's module so that both binaries
// agree on the versions of shared packages, as plugin loading requires.
func (r *Run) runnerTarget() *build.Target {
	return &build.Target{Pkg: build.RunnerPkg, Dir: r.proj.PackageDir(), Mode: build.ModeExe, Out: r.layout.Runner()}
}

// Build compiles the test library and the runner if their inputs changed.
func (r *Run) Build(ctx context.Context) error {
	in, err := r.prepare(ctx, false)
	if err != nil {
		return err
	}
	p, plan, err := r.planFiles(ctx, in, []planner.Stage{planner.Compile})
	if err != nil {
		return err
	}
	return r.compile(ctx, p, plan, in)
}

// planFiles plans stages whose outputs live in the output directory. The
// plan is shared by every stage of a command, so a stage that runs forces
// all later ones.
func (r *Run) planFiles(ctx context.Context, in *inputs, stages []planner.Stage) (*planner.Planner, *planner.Plan, error) {
	p, err := r.openPlanner()
	if err != nil {
		return nil, nil, err
	}
	plan, err := p.Plan(ctx, in.fps, "", stages, &fileProbe{r.layout}, r.cfg.Force)
	if err != nil {
		return nil, nil, err
	}
	return p, plan, nil
}

func (r *Run) compile(ctx context.Context, p *planner.Planner, plan *planner.Plan, in *inputs) error {
	if !plan.Runs(planner.Compile) {
		logging.Info(ctx, "Test library is up to date")
		return nil
	}
	logging.Infof(ctx, "Compiling tests (%s)", plan.Reasons[planner.Compile])
	if err := r.stage(ctx, "compile", r.cfg.Timeouts.Compile, KindBuild, func(ctx context.Context) error {
		return build.Build(ctx, r.buildConfig(in), []*build.Target{r.libraryTarget(), r.runnerTarget()})
	}); err != nil {
		return err
	}
	return p.Record(planner.Compile, "", in.fps.Compile)
}

// Package brings the host application package up to date, compiling
// first if needed. It returns the stage fingerprints.
func (r *Run) Package(ctx context.Context) (planner.Fingerprints, error) {
	in, err := r.prepare(ctx, true)
	if err != nil {
		return planner.Fingerprints{}, err
	}
	p, plan, err := r.planFiles(ctx, in, []planner.Stage{planner.Compile, planner.Package})
	if err != nil {
		return planner.Fingerprints{}, err
	}
	if err := r.pkg(ctx, p, plan, in); err != nil {
		return planner.Fingerprints{}, err
	}
	return in.fps, nil
}

func (r *Run) pkg(ctx context.Context, p *planner.Planner, plan *planner.Plan, in *inputs) error {
	if err := r.compile(ctx, p, plan, in); err != nil {
		return err
	}
	if !plan.Runs(planner.Package) {
		logging.Info(ctx, "Host application is up to date")
		return nil
	}
	logging.Infof(ctx, "Packaging %s (%s)", r.proj.HostPackage, plan.Reasons[planner.Package])
	if err := r.stage(ctx, "package", r.cfg.Timeouts.Package, KindBuild, func(ctx context.Context) error {
		keystore := r.cfg.Keystore
		if keystore == "" {
			keystore = assemble.DefaultKeystore()
		}
		a := assemble.New(&assemble.Config{
			SDK:       in.sdk,
			ABI:       r.proj.ABI,
			Package:   r.proj.HostPackage,
			MinSDK:    r.proj.MinSDK,
			TargetSDK: r.proj.TargetSDK,
			Keystore:  keystore,
			WorkDir:   r.layout.WorkDir(),
			Runner:    r.cfg.Tools,
		})
		return a.Assemble(ctx, &assemble.Inputs{
			Fingerprint: in.fps.Package,
			Permissions: in.perms,
			NativeLibs:  []string{r.layout.TestLib(), r.layout.Runner()},
			Deps:        in.deps,
		}, r.layout.APK())
	}); err != nil {
		return err
	}
	return p.Record(planner.Package, "", in.fps.Package)
}

// Test packages the project if needed, deploys it to the device and runs
// the tests. Test failures are reported in the returned Report and do not
// cause an error; a run that could not complete returns an error along
// with a Report describing it.
func (r *Run) Test(ctx context.Context) (*Report, error) {
	rep := newReport(r.cfg.Clock.Now(), r.cfg.Filter)
	err := r.test(ctx, rep)
	rep.finish(r.cfg.Clock.Now(), err)
	if werr := rep.WriteFile(r.layout.Results()); werr != nil && err == nil {
		err = werr
	}
	return rep, err
}

func (r *Run) test(ctx context.Context, rep *Report) error {
	in, err := r.prepare(ctx, true)
	if err != nil {
		return err
	}
	p, plan, err := r.planFiles(ctx, in, []planner.Stage{planner.Compile, planner.Package})
	if err != nil {
		return err
	}
	if err := r.pkg(ctx, p, plan, in); err != nil {
		return err
	}

	var drv *device.Driver
	var remote string
	if err := r.stage(ctx, "deploy", r.cfg.Timeouts.Deploy, KindDevice, func(ctx context.Context) error {
		var err error
		drv, err = r.cfg.Connect(ctx, r.cfg.Device, &device.Config{
			Package:         r.proj.HostPackage,
			Instrumentation: assemble.Instrumentation(),
		})
		if err != nil {
			return err
		}
		rep.Device = drv.Serial()

		probe := &deviceProbe{drv: drv, libName: r.proj.LibName}
		plan, err := p.Continue(ctx, plan, in.fps, drv.Serial(), []planner.Stage{planner.Install}, probe, r.cfg.Force)
		if err != nil {
			return err
		}
		if plan.Runs(planner.Install) {
			// A rebuilt package keeps its fingerprint, so the device cannot
			// tell it apart from the installed one.
			if _, err := drv.Install(ctx, r.layout.APK(), in.fps.Install, true); err != nil {
				return err
			}
			if err := p.Record(planner.Install, drv.Serial(), in.fps.Install); err != nil {
				return err
			}
		} else {
			logging.Infof(ctx, "%s is up to date on %s", r.proj.HostPackage, drv.Serial())
		}

		remote, _, err = drv.PushNativeLibrary(ctx, r.layout.TestLib(), r.cfg.Force)
		return err
	}); err != nil {
		return err
	}

	var payload *protocol.Payload
	if err := r.stage(ctx, "launch", r.cfg.Timeouts.Launch+launchGrace, KindDevice, func(ctx context.Context) error {
		if err := drv.ClearLogs(ctx); err != nil {
			return err
		}
		var err error
		payload, err = drv.Launch(ctx, &protocol.LaunchArgs{LibPath: remote, TestFilter: r.cfg.Filter}, r.cfg.Timeouts.Launch)
		r.saveDeviceLog(ctx, drv)
		return err
	}); err != nil {
		return err
	}

	if payload.Status == protocol.StatusCancelled {
		return &StageError{Stage: "launch", Kind: KindBoundary, Err: errors.New(payload.Error)}
	}
	rep.add(payload)
	return nil
}

// saveDeviceLog writes the runner's device log to the output directory.
// With NoCapture the log is also shown to the user.
func (r *Run) saveDeviceLog(ctx context.Context, drv *device.Driver) {
	// Collect logs even after a launch timeout.
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logTimeout)
	defer cancel()

	out, err := drv.Logs(lctx, r.cfg.NoCapture)
	if err != nil {
		logging.Info(ctx, "Failed to collect device log: ", err)
		return
	}
	if err := os.WriteFile(r.layout.DeviceLog(), []byte(out+"\n"), 0644); err != nil {
		logging.Info(ctx, "Failed to save device log: ", err)
	}
	if out == "" {
		return
	}
	if r.cfg.NoCapture {
		logging.Info(ctx, "Device log:\n", out)
	} else {
		logging.Debug(ctx, "Device log:\n", out)
	}
}

// Clean removes the output directory.
func (r *Run) Clean(ctx context.Context) error {
	logging.Infof(ctx, "Removing %s", r.layout.Dir)
	return os.RemoveAll(r.layout.Dir)
}
