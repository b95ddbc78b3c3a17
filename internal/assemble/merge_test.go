// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package assemble

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/extract"
	"go.vampire.dev/vampire/internal/maven"
	"go.vampire.dev/vampire/testutil"
)

var cmpSorted = cmpopts.SortSlices(func(a, b string) bool { return a < b })

func TestMergeClasses(t *testing.T) {
	dir := testutil.TempDir(t)
	jar := func(name string, files map[string]string) string {
		p := filepath.Join(dir, name)
		if err := testutil.WriteZip(p, files); err != nil {
			t.Fatal(err)
		}
		return p
	}
	if err := testutil.WriteFiles(filepath.Join(dir, "obj"), map[string]string{
		"com/vampire/host/Shim.class": "shim",
		"notes.txt":                   "ignored",
	}); err != nil {
		t.Fatal(err)
	}
	srcs := []ClassSource{
		{Origin: LocalOrigin, Dir: filepath.Join(dir, "obj")},
		{Origin: "a:a:1", Jar: jar("a.jar", map[string]string{
			"com/common/Util.class":    "util",
			"com/a/A.class":            "a",
			"META-INF/a.kotlin_module": "meta",
		})},
		{Origin: "b:b:1", Jar: jar("b.jar", map[string]string{
			"com/common/Util.class": "util",
			"com/b/B.class":         "b",
		})},
	}
	dst := filepath.Join(dir, "merged.jar")
	if err := MergeClasses(dst, srcs); err != nil {
		t.Fatal("MergeClasses failed: ", err)
	}
	got, err := testutil.ReadZip(dst)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"com/vampire/host/Shim.class": "shim",
		"com/common/Util.class":       "util",
		"com/a/A.class":               "a",
		"com/b/B.class":               "b",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Merged classes mismatch (-got +want):\n%s", diff)
	}
}

func TestMergeClassesConflict(t *testing.T) {
	dir := testutil.TempDir(t)
	a := filepath.Join(dir, "a.jar")
	b := filepath.Join(dir, "b.jar")
	if err := testutil.WriteZip(a, map[string]string{"com/common/Util.class": "v1"}); err != nil {
		t.Fatal(err)
	}
	if err := testutil.WriteZip(b, map[string]string{"com/common/Util.class": "v2"}); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "merged.jar")
	err := MergeClasses(dst, []ClassSource{{Origin: "com.a:util:1.0.0", Jar: a}, {Origin: "com.b:util:2.0.0", Jar: b}})

	var merr *MergeConflictError
	if !errors.As(err, &merr) {
		t.Fatalf("MergeClasses returned %v; want *MergeConflictError", err)
	}
	for _, s := range []string{"com/common/Util.class", "com.a:util:1.0.0", "com.b:util:2.0.0"} {
		if !strings.Contains(merr.Error(), s) {
			t.Errorf("Error %q does not mention %s", merr.Error(), s)
		}
	}
	if _, err := testutil.ReadZip(dst); err == nil {
		t.Error("MergeClasses left a partial jar behind")
	}
}

func TestCollectNativeLibs(t *testing.T) {
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{
		"own/libtests.so":      "tests",
		"a/arm64/libshared.so": "shared",
		"b/arm64/libshared.so": "shared",
		"b/x86/libshared.so":   "shared-x86",
	}); err != nil {
		t.Fatal(err)
	}
	deps := []*extract.Contribution{
		{
			Coordinate: maven.Coordinate{Group: "g", Artifact: "a", Version: "1"},
			NativeLibs: []extract.NativeLib{{ABI: "arm64-v8a", Name: "libshared.so", Path: filepath.Join(dir, "a/arm64/libshared.so")}},
		},
		{
			Coordinate: maven.Coordinate{Group: "g", Artifact: "b", Version: "1"},
			NativeLibs: []extract.NativeLib{
				{ABI: "arm64-v8a", Name: "libshared.so", Path: filepath.Join(dir, "b/arm64/libshared.so")},
				{ABI: "x86", Name: "libshared.so", Path: filepath.Join(dir, "b/x86/libshared.so")},
			},
		},
	}
	own := []NativeFile{{Path: filepath.Join(dir, "own/libtests.so"), Origin: LocalOrigin}}
	got, err := CollectNativeLibs("arm64-v8a", own, deps)
	if err != nil {
		t.Fatal("CollectNativeLibs failed: ", err)
	}
	want := []NativeFile{
		{Entry: "lib/arm64-v8a/libtests.so", Path: filepath.Join(dir, "own/libtests.so"), Origin: LocalOrigin},
		{Entry: "lib/arm64-v8a/libshared.so", Path: filepath.Join(dir, "a/arm64/libshared.so"), Origin: "g:a:1"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("CollectNativeLibs mismatch (-got +want):\n%s", diff)
	}
}

func TestMergePermissions(t *testing.T) {
	deps := []*extract.Contribution{
		{Permissions: []string{"android.permission.WAKE_LOCK", "android.permission.INTERNET"}},
		{},
		{Permissions: []string{"android.permission.ACCESS_NETWORK_STATE"}},
	}
	got := MergePermissions([]string{"android.permission.INTERNET", " ", "android.permission.CAMERA"}, deps)
	want := []string{
		"android.permission.ACCESS_NETWORK_STATE",
		"android.permission.CAMERA",
		"android.permission.INTERNET",
		"android.permission.WAKE_LOCK",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("MergePermissions mismatch (-got +want):\n%s", diff)
	}
}

func TestWriteManifestWithoutPermissions(t *testing.T) {
	b, err := WriteManifest(&ManifestParams{
		Package:         "com.example.host",
		VersionName:     "fp",
		MinSDK:          24,
		TargetSDK:       30,
		Instrumentation: Instrumentation(),
	})
	if err != nil {
		t.Fatal("WriteManifest failed: ", err)
	}
	mf := string(b)
	if strings.Contains(mf, "uses-permission") {
		t.Errorf("Manifest has permissions:\n%s", mf)
	}
	if !strings.Contains(mf, `android:targetPackage="com.example.host"`) {
		t.Errorf("Manifest does not target its own package:\n%s", mf)
	}
}

func TestWriteShim(t *testing.T) {
	b, err := WriteShim("com.example.host")
	if err != nil {
		t.Fatal("WriteShim failed: ", err)
	}
	src := string(b)
	for _, s := range []string{
		"package com.example.host;",
		`"libvampire_runner.so"`,
		`"TestRunner"`,
		`arguments.getString("lib_path")`,
		`cmd.add("-test_filter")`,
		"RESULT_CANCELED",
	} {
		if !strings.Contains(src, s) {
			t.Errorf("Shim source does not contain %s", s)
		}
	}
}
