// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sdk locates the Android SDK and NDK tools used to build and
// package tests.
package sdk

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/maven"
)

// SDK is an Android SDK installation.
type SDK struct {
	// Root is the SDK directory.
	Root string
	// BuildTools is the directory of the build-tools version in use.
	BuildTools string
	// NDK is the NDK directory. It is empty if no NDK was found.
	NDK string
}

// Env is the environment consulted by Find.
type Env struct {
	Getenv func(key string) string
	Home   string
}

// DefaultEnv returns the process environment.
func DefaultEnv() Env {
	home, _ := os.UserHomeDir()
	return Env{Getenv: os.Getenv, Home: home}
}

// Find locates the SDK from ANDROID_SDK_ROOT, ANDROID_HOME or the default
// install locations, and picks its highest build-tools version. The NDK is
// taken from ANDROID_NDK_HOME or the highest version under <sdk>/ndk.
func Find(env Env) (*SDK, error) {
	candidates := []string{env.Getenv("ANDROID_SDK_ROOT"), env.Getenv("ANDROID_HOME")}
	if env.Home != "" {
		candidates = append(candidates,
			filepath.Join(env.Home, "Android", "Sdk"),
			filepath.Join(env.Home, "Library", "Android", "sdk"))
	}
	var root string
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if fi, err := os.Stat(c); err == nil && fi.IsDir() {
			root = c
			break
		}
	}
	if root == "" {
		return nil, errors.New("Android SDK not found; set ANDROID_SDK_ROOT or ANDROID_HOME")
	}

	bt, err := highestVersion(filepath.Join(root, "build-tools"))
	if err != nil {
		return nil, errors.Wrap(err, "no usable build-tools in Android SDK")
	}
	s := &SDK{Root: root, BuildTools: bt}

	if ndk := env.Getenv("ANDROID_NDK_HOME"); ndk != "" {
		s.NDK = ndk
	} else if ndk, err := highestVersion(filepath.Join(root, "ndk")); err == nil {
		s.NDK = ndk
	}
	return s, nil
}

// highestVersion returns the subdirectory of dir with the highest X.Y.Z
// name.
func highestVersion(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var best string
	var bestVer maven.Version
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		v, ok := maven.ParseVersion(e.Name())
		if !ok {
			continue
		}
		if best == "" || bestVer.Less(v) {
			best, bestVer = e.Name(), v
		}
	}
	if best == "" {
		return "", errors.Errorf("no versioned directory in %s", dir)
	}
	return filepath.Join(dir, best), nil
}

// Tool returns the path of a build tool such as "aapt2" or "d8".
func (s *SDK) Tool(name string) string {
	return filepath.Join(s.BuildTools, name)
}

// AndroidJar returns the platform library for API level api.
func (s *SDK) AndroidJar(api int) (string, error) {
	p := filepath.Join(s.Root, "platforms", "android-"+strconv.Itoa(api), "android.jar")
	if _, err := os.Stat(p); err != nil {
		return "", errors.Errorf("platform android-%d is not installed (%s missing)", api, p)
	}
	return p, nil
}

// ABI describes how to target an Android ABI.
type ABI struct {
	// Name is the Android ABI name, e.g. "arm64-v8a".
	Name string
	// GoEnv holds the Go environment variables selecting the architecture.
	GoEnv []string
	// Triple is the clang target triple prefix.
	Triple string
}

var abis = map[string]*ABI{
	"arm64-v8a":   {Name: "arm64-v8a", GoEnv: []string{"GOARCH=arm64"}, Triple: "aarch64-linux-android"},
	"armeabi-v7a": {Name: "armeabi-v7a", GoEnv: []string{"GOARCH=arm", "GOARM=7"}, Triple: "armv7a-linux-androideabi"},
	"x86_64":      {Name: "x86_64", GoEnv: []string{"GOARCH=amd64"}, Triple: "x86_64-linux-android"},
	"x86":         {Name: "x86", GoEnv: []string{"GOARCH=386"}, Triple: "i686-linux-android"},
}

// LookupABI returns the ABI named name.
func LookupABI(name string) (*ABI, error) {
	a, ok := abis[name]
	if !ok {
		return nil, errors.Errorf("unsupported ABI %q", name)
	}
	return a, nil
}

// hostTag names the prebuilt NDK toolchain directory for this host.
func hostTag() string {
	return runtime.GOOS + "-x86_64"
}

// Clang returns the NDK clang driver targeting abi at API level api.
func (s *SDK) Clang(abi *ABI, api int) (string, error) {
	if s.NDK == "" {
		return "", errors.New("Android NDK not found; set ANDROID_NDK_HOME or install one under the SDK's ndk directory")
	}
	p := filepath.Join(s.NDK, "toolchains", "llvm", "prebuilt", hostTag(), "bin", fmt.Sprintf("%s%d-clang", abi.Triple, api))
	if _, err := os.Stat(p); err != nil {
		return "", errors.Errorf("NDK compiler %s not found", p)
	}
	return p, nil
}
