// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package assemble packages compiled tests, the on-device runner and
// dependency payloads into a signed host application.
//
// The pipeline follows the Android build tools:
//
//	javac -> merge classes -> d8 -> aapt2 compile/link -> add dex and
//	native libraries -> zipalign -> apksigner
//
// Every tool runs through a build.Runner, and a failing tool is reported as
// *build.Error carrying its output.
package assemble

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/extract"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/sdk"
	"go.vampire.dev/vampire/internal/timing"
)

// Debug signing identity used by the Android tools.
const (
	debugKeyAlias    = "androiddebugkey"
	debugKeyPassword = "android"
)

// Config describes how to assemble the host application.
type Config struct {
	SDK *sdk.SDK
	// ABI is the ABI the native libraries are built for.
	ABI       string
	Package   string
	MinSDK    int
	TargetSDK int
	// Keystore is the debug keystore used for signing. It is created if it
	// does not exist.
	Keystore string
	// WorkDir holds intermediate files. It is recreated on every run.
	WorkDir string
	// Runner runs the Android tools. If nil, build.ExecRunner is used.
	Runner build.Runner
}

// Inputs are the contents of one package.
type Inputs struct {
	// Fingerprint identifies the package contents. It is stored as the
	// application's version name.
	Fingerprint string
	// Permissions are the permissions declared by the project.
	Permissions []string
	// NativeLibs are the project's own libraries, e.g. the test library and
	// the runner.
	NativeLibs []string
	// Deps are the contributions of resolved dependencies.
	Deps []*extract.Contribution
}

// DefaultKeystore returns the standard debug keystore location.
func DefaultKeystore() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".android", "debug.keystore")
}

// Assembler builds host application packages.
type Assembler struct {
	cfg Config
}

// New returns an Assembler.
func New(cfg *Config) *Assembler {
	c := *cfg
	if c.Runner == nil {
		c.Runner = build.ExecRunner{}
	}
	return &Assembler{cfg: c}
}

// Instrumentation returns the instrumentation component relative to the
// package.
func Instrumentation() string {
	return "." + ShimClass
}

func (a *Assembler) exec(ctx context.Context, name string, args ...string) error {
	_, err := build.Exec(ctx, a.cfg.Runner, &build.Cmd{Name: name, Args: args, Dir: a.cfg.WorkDir})
	return err
}

// Assemble builds a signed package at out.
func (a *Assembler) Assemble(ctx context.Context, in *Inputs, out string) error {
	ctx, st := timing.Start(ctx, "assemble")
	defer st.End()

	cfg := &a.cfg
	androidJar, err := cfg.SDK.AndroidJar(cfg.TargetSDK)
	if err != nil {
		return err
	}

	// Native conflicts are checked first since they need no tools.
	var own []NativeFile
	for _, p := range in.NativeLibs {
		own = append(own, NativeFile{Path: p, Origin: LocalOrigin})
	}
	libs, err := CollectNativeLibs(cfg.ABI, own, in.Deps)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(cfg.WorkDir); err != nil {
		return err
	}
	dir := func(name string) (string, error) {
		p := filepath.Join(cfg.WorkDir, name)
		return p, os.MkdirAll(p, 0755)
	}
	srcDir, err := dir("src")
	if err != nil {
		return err
	}
	objDir, err := dir("obj")
	if err != nil {
		return err
	}
	dexDir, err := dir("dex")
	if err != nil {
		return err
	}

	params := &ManifestParams{
		Package:         cfg.Package,
		VersionName:     in.Fingerprint,
		MinSDK:          cfg.MinSDK,
		TargetSDK:       cfg.TargetSDK,
		Permissions:     MergePermissions(in.Permissions, in.Deps),
		Instrumentation: Instrumentation(),
	}
	javaSrc, err := writeSources(srcDir, params)
	if err != nil {
		return errors.Wrap(err, "failed to write host sources")
	}

	depClasses := DependencyClasses(in.Deps)
	var classpath []string
	for _, c := range depClasses {
		classpath = append(classpath, c.Jar)
	}

	logging.Info(ctx, "Compiling host application")
	javacArgs := []string{"-source", "1.8", "-target", "1.8", "-nowarn", "-bootclasspath", androidJar}
	if len(classpath) > 0 {
		javacArgs = append(javacArgs, "-classpath", strings.Join(classpath, string(os.PathListSeparator)))
	}
	javacArgs = append(javacArgs, "-d", objDir, javaSrc)
	if err := a.exec(ctx, "javac", javacArgs...); err != nil {
		return err
	}

	merged := filepath.Join(cfg.WorkDir, "classes.jar")
	srcs := append([]ClassSource{{Origin: LocalOrigin, Dir: objDir}}, depClasses...)
	if err := MergeClasses(merged, srcs); err != nil {
		return err
	}

	logging.Info(ctx, "Converting classes to dex")
	if err := a.exec(ctx, cfg.SDK.Tool("d8"),
		"--output", dexDir, "--lib", androidJar, "--min-api", strconv.Itoa(cfg.MinSDK), merged); err != nil {
		return err
	}
	dexFiles, err := filepath.Glob(filepath.Join(dexDir, "classes*.dex"))
	if err != nil {
		return err
	}
	if len(dexFiles) == 0 {
		return errors.New("d8 produced no dex files")
	}
	sort.Strings(dexFiles)

	logging.Info(ctx, "Linking resources")
	aapt2 := cfg.SDK.Tool("aapt2")
	resZip := filepath.Join(cfg.WorkDir, "res.zip")
	if err := a.exec(ctx, aapt2, "compile", "--dir", filepath.Join(srcDir, "res"), "-o", resZip); err != nil {
		return err
	}
	linked := filepath.Join(cfg.WorkDir, "linked.apk")
	if err := a.exec(ctx, aapt2, "link", "-I", androidJar,
		"--manifest", filepath.Join(srcDir, "AndroidManifest.xml"),
		"-o", linked, "--auto-add-overlay", "-R", resZip); err != nil {
		return err
	}

	unaligned := filepath.Join(cfg.WorkDir, "unaligned.apk")
	if err := addEntries(linked, unaligned, dexFiles, libs); err != nil {
		return errors.Wrap(err, "failed to add contents to package")
	}
	for _, l := range libs {
		logging.Debugf(ctx, "Packaged %s from %s", l.Entry, l.Origin)
	}

	aligned := filepath.Join(cfg.WorkDir, "aligned.apk")
	if err := a.exec(ctx, cfg.SDK.Tool("zipalign"), "-f", "-p", "4", unaligned, aligned); err != nil {
		return err
	}

	if err := a.ensureKeystore(ctx); err != nil {
		return err
	}
	logging.Info(ctx, "Signing package")
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return err
	}
	return a.exec(ctx, cfg.SDK.Tool("apksigner"), "sign",
		"--ks", cfg.Keystore,
		"--ks-pass", "pass:"+debugKeyPassword,
		"--ks-key-alias", debugKeyAlias,
		"--out", out, aligned)
}

// ensureKeystore creates the debug keystore if it is missing.
func (a *Assembler) ensureKeystore(ctx context.Context) error {
	ks := a.cfg.Keystore
	if _, err := os.Stat(ks); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	logging.Info(ctx, "Creating debug keystore ", ks)
	if err := os.MkdirAll(filepath.Dir(ks), 0755); err != nil {
		return err
	}
	return a.exec(ctx, "keytool", "-genkeypair",
		"-keystore", ks,
		"-storepass", debugKeyPassword,
		"-alias", debugKeyAlias,
		"-keypass", debugKeyPassword,
		"-keyalg", "RSA", "-keysize", "2048", "-validity", "10000",
		"-dname", "CN=Android Debug,O=Android,C=US")
}
