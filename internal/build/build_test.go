// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package build

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/sdk"
	"go.vampire.dev/vampire/testutil"
)

// fakeRunner records commands instead of running them.
type fakeRunner struct {
	cmds []*Cmd
	// fail makes commands whose arguments contain this string fail.
	fail string
}

func (r *fakeRunner) Run(ctx context.Context, cmd *Cmd) ([]byte, error) {
	r.cmds = append(r.cmds, cmd)
	if r.fail != "" && strings.Contains(strings.Join(cmd.Args, " "), r.fail) {
		return []byte("undefined: Foo"), errors.New("exit status 1")
	}
	return nil, nil
}

func newConfig(t *testing.T, r Runner) *Config {
	ndk := testutil.TempDir(t)
	clang := "toolchains/llvm/prebuilt/" + runtime.GOOS + "-x86_64/bin/aarch64-linux-android24-clang"
	if err := testutil.WriteFiles(ndk, map[string]string{clang: ""}); err != nil {
		t.Fatal(err)
	}
	abi, err := sdk.LookupABI("arm64-v8a")
	if err != nil {
		t.Fatal(err)
	}
	return &Config{SDK: &sdk.SDK{NDK: ndk}, ABI: abi, API: 24, Runner: r}
}

func TestBuild(t *testing.T) {
	r := &fakeRunner{}
	cfg := newConfig(t, r)
	out := testutil.TempDir(t)
	tgts := []*Target{
		{Pkg: ".", Dir: "/src/tests", Mode: ModePlugin, Out: filepath.Join(out, "libvampire_tests.so")},
		{Pkg: RunnerPkg, Dir: "/src/tests", Mode: ModeExe, Out: filepath.Join(out, RunnerLibName)},
	}
	if err := Build(context.Background(), cfg, tgts); err != nil {
		t.Fatal("Build failed: ", err)
	}

	clang, _ := cfg.SDK.Clang(cfg.ABI, 24)
	env := []string{"GOOS=android", "CGO_ENABLED=1", "CC=" + clang, "GOARCH=arm64"}
	want := []*Cmd{
		{
			Name: "go",
			Args: []string{"build", "-trimpath", "-buildmode=plugin", "-ldflags=-s -w", "-o", tgts[0].Out, "."},
			Dir:  "/src/tests",
			Env:  env,
		},
		{
			Name: "go",
			Args: []string{"build", "-trimpath", "-ldflags=-s -w", "-o", tgts[1].Out, RunnerPkg},
			Dir:  "/src/tests",
			Env:  env,
		},
	}
	if diff := cmp.Diff(r.cmds, want); diff != "" {
		t.Errorf("Build ran unexpected commands (-got +want):\n%s", diff)
	}
}

func TestBuildDebug(t *testing.T) {
	r := &fakeRunner{}
	cfg := newConfig(t, r)
	cfg.Debug = true
	cfg.GoCommand = "/opt/go/bin/go"
	cfg.Env = []string{"GOFLAGS=-mod=mod"}
	tgt := &Target{Pkg: ".", Dir: "/src", Mode: ModeExe, Out: filepath.Join(testutil.TempDir(t), "x")}
	if err := Build(context.Background(), cfg, []*Target{tgt}); err != nil {
		t.Fatal("Build failed: ", err)
	}
	if len(r.cmds) != 1 {
		t.Fatalf("Build ran %d commands; want 1", len(r.cmds))
	}
	if r.cmds[0].Name != "/opt/go/bin/go" {
		t.Errorf("Build ran %q; want /opt/go/bin/go", r.cmds[0].Name)
	}
	for _, a := range r.cmds[0].Args {
		if strings.HasPrefix(a, "-ldflags") {
			t.Errorf("Debug build passed %q", a)
		}
	}
	if env := r.cmds[0].Env; env[len(env)-1] != "GOFLAGS=-mod=mod" {
		t.Errorf("Build environment %q does not end with the extra variables", env)
	}
}

func TestBuildFailure(t *testing.T) {
	r := &fakeRunner{fail: RunnerPkg}
	cfg := newConfig(t, r)
	out := testutil.TempDir(t)
	tgts := []*Target{
		{Pkg: RunnerPkg, Mode: ModeExe, Out: filepath.Join(out, RunnerLibName)},
		{Pkg: ".", Mode: ModePlugin, Out: filepath.Join(out, "lib.so")},
	}
	err := Build(context.Background(), cfg, tgts)
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("Build returned %v; want *Error", err)
	}
	if !strings.Contains(berr.Error(), "undefined: Foo") {
		t.Errorf("Error %q does not include the tool output", berr.Error())
	}
	if len(r.cmds) != 1 {
		t.Errorf("Build ran %d commands after a failure; want 1", len(r.cmds))
	}
}

func TestBuildWithoutNDK(t *testing.T) {
	cfg := newConfig(t, &fakeRunner{})
	cfg.SDK.NDK = ""
	if err := Build(context.Background(), cfg, []*Target{{Pkg: "."}}); err == nil {
		t.Error("Build succeeded without an NDK")
	}
}
