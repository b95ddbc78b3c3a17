// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package assemble

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/extract"
	"go.vampire.dev/vampire/internal/maven"
	"go.vampire.dev/vampire/internal/sdk"
	"go.vampire.dev/vampire/testutil"
)

// fakeTools imitates the Android tools by writing the files they would
// produce.
type fakeTools struct {
	cmds []*build.Cmd
	fail string
}

func flagValue(args []string, name string) string {
	for i, a := range args {
		if a == name && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func (f *fakeTools) Run(ctx context.Context, cmd *build.Cmd) ([]byte, error) {
	f.cmds = append(f.cmds, cmd)
	tool := filepath.Base(cmd.Name)
	args := cmd.Args
	if tool == f.fail {
		return []byte("error: something broke"), errors.New("exit status 1")
	}
	var err error
	switch tool {
	case "javac":
		err = testutil.WriteFiles(flagValue(args, "-d"), map[string]string{
			"com/vampire/host/VampireInstrumentation.class": "shim",
		})
	case "d8":
		err = testutil.WriteFiles(flagValue(args, "--output"), map[string]string{"classes.dex": "dex"})
	case "aapt2":
		if args[0] == "compile" {
			err = testutil.WriteZip(flagValue(args, "-o"), map[string]string{"values_strings.arsc.flat": "res"})
		} else {
			var mf []byte
			if mf, err = os.ReadFile(flagValue(args, "--manifest")); err == nil {
				err = testutil.WriteZip(flagValue(args, "-o"), map[string]string{
					"AndroidManifest.xml": string(mf),
					"resources.arsc":      "arsc",
				})
			}
		}
	case "zipalign":
		err = copyFile(args[len(args)-2], args[len(args)-1])
	case "apksigner":
		err = copyFile(args[len(args)-1], flagValue(args, "--out"))
	case "keytool":
		err = os.WriteFile(flagValue(args, "-keystore"), []byte("keystore"), 0644)
	default:
		err = errors.Errorf("unexpected tool %s", cmd.Name)
	}
	return nil, err
}

func copyFile(src, dst string) error {
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0644)
}

type fixture struct {
	dir   string
	tools *fakeTools
	asm   *Assembler
	in    *Inputs
}

func newFixture(t *testing.T) *fixture {
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{
		"sdk/platforms/android-30/android.jar": "",
		"build/libvampire_tests.so":            "tests",
		"build/libvampire_runner.so":           "runner",
		"deps/foo/jni/arm64-v8a/libfoo.so":     "foo",
		"deps/foo/jni/x86/libfoo.so":           "foo-x86",
	}); err != nil {
		t.Fatal(err)
	}
	fooJar := filepath.Join(dir, "deps/foo/classes.jar")
	if err := testutil.WriteZip(fooJar, map[string]string{
		"com/foo/Foo.class":    "foo",
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0",
	}); err != nil {
		t.Fatal(err)
	}
	barJar := filepath.Join(dir, "deps/bar.jar")
	if err := testutil.WriteZip(barJar, map[string]string{"com/bar/Bar.class": "bar"}); err != nil {
		t.Fatal(err)
	}

	foo := maven.Coordinate{Group: "com.foo", Artifact: "foo", Version: "1.0.0"}
	bar := maven.Coordinate{Group: "com.bar", Artifact: "bar", Version: "2.0.0"}
	tools := &fakeTools{}
	return &fixture{
		dir:   dir,
		tools: tools,
		asm: New(&Config{
			SDK:       &sdk.SDK{Root: filepath.Join(dir, "sdk"), BuildTools: filepath.Join(dir, "sdk/build-tools/34.0.0")},
			ABI:       "arm64-v8a",
			Package:   "com.vampire.host",
			MinSDK:    24,
			TargetSDK: 30,
			Keystore:  filepath.Join(dir, "home/.android/debug.keystore"),
			WorkDir:   filepath.Join(dir, "work"),
			Runner:    tools,
		}),
		in: &Inputs{
			Fingerprint: "abc123",
			Permissions: []string{"android.permission.INTERNET"},
			NativeLibs: []string{
				filepath.Join(dir, "build/libvampire_tests.so"),
				filepath.Join(dir, "build/libvampire_runner.so"),
			},
			Deps: []*extract.Contribution{
				{
					Coordinate:  foo,
					ClassesJar:  fooJar,
					Permissions: []string{"android.permission.ACCESS_NETWORK_STATE", "android.permission.INTERNET"},
					NativeLibs: []extract.NativeLib{
						{ABI: "arm64-v8a", Name: "libfoo.so", Path: filepath.Join(dir, "deps/foo/jni/arm64-v8a/libfoo.so")},
						{ABI: "x86", Name: "libfoo.so", Path: filepath.Join(dir, "deps/foo/jni/x86/libfoo.so")},
					},
				},
				{Coordinate: bar, ClassesJar: barJar},
			},
		},
	}
}

func TestAssemble(t *testing.T) {
	f := newFixture(t)
	out := filepath.Join(f.dir, "out/vampire-host.apk")
	if err := f.asm.Assemble(context.Background(), f.in, out); err != nil {
		t.Fatal("Assemble failed: ", err)
	}

	files, err := testutil.ReadZip(out)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for n := range files {
		names = append(names, n)
	}
	wantNames := []string{
		"AndroidManifest.xml",
		"classes.dex",
		"lib/arm64-v8a/libfoo.so",
		"lib/arm64-v8a/libvampire_runner.so",
		"lib/arm64-v8a/libvampire_tests.so",
		"resources.arsc",
	}
	if diff := cmp.Diff(names, wantNames, cmpSorted); diff != "" {
		t.Errorf("Package entries mismatch (-got +want):\n%s", diff)
	}
	if got := files["lib/arm64-v8a/libvampire_runner.so"]; got != "runner" {
		t.Errorf("Runner library contents = %q; want %q", got, "runner")
	}

	mf := files["AndroidManifest.xml"]
	for _, s := range []string{
		`package="com.vampire.host"`,
		`android:versionName="abc123"`,
		`android:minSdkVersion="24"`,
		`android:targetSdkVersion="30"`,
		`<uses-permission android:name="android.permission.ACCESS_NETWORK_STATE" />`,
		`<uses-permission android:name="android.permission.INTERNET" />`,
		`android:name=".VampireInstrumentation"`,
		`android:extractNativeLibs="true"`,
	} {
		if !strings.Contains(mf, s) {
			t.Errorf("Manifest does not contain %s:\n%s", s, mf)
		}
	}
	if strings.Count(mf, "android.permission.INTERNET") != 1 {
		t.Errorf("Manifest repeats a permission:\n%s", mf)
	}

	var tools []string
	for _, c := range f.tools.cmds {
		tools = append(tools, filepath.Base(c.Name)+" "+c.Args[0])
	}
	wantTools := []string{"javac -source", "d8 --output", "aapt2 compile", "aapt2 link", "zipalign -f", "keytool -genkeypair", "apksigner sign"}
	if diff := cmp.Diff(tools, wantTools); diff != "" {
		t.Errorf("Tools run mismatch (-got +want):\n%s", diff)
	}

	javac := f.tools.cmds[0].Args
	cp := flagValue(javac, "-classpath")
	if !strings.Contains(cp, "classes.jar") || !strings.Contains(cp, "bar.jar") {
		t.Errorf("javac classpath %q does not include dependency classes", cp)
	}

	merged, err := testutil.ReadZip(filepath.Join(f.dir, "work/classes.jar"))
	if err != nil {
		t.Fatal(err)
	}
	wantClasses := map[string]string{
		"com/vampire/host/VampireInstrumentation.class": "shim",
		"com/foo/Foo.class":                             "foo",
		"com/bar/Bar.class":                             "bar",
	}
	if diff := cmp.Diff(merged, wantClasses); diff != "" {
		t.Errorf("Merged classes mismatch (-got +want):\n%s", diff)
	}
}

func TestAssembleReusesKeystore(t *testing.T) {
	f := newFixture(t)
	if err := testutil.WriteFiles(f.dir, map[string]string{"home/.android/debug.keystore": "existing"}); err != nil {
		t.Fatal(err)
	}
	if err := f.asm.Assemble(context.Background(), f.in, filepath.Join(f.dir, "out.apk")); err != nil {
		t.Fatal("Assemble failed: ", err)
	}
	for _, c := range f.tools.cmds {
		if filepath.Base(c.Name) == "keytool" {
			t.Error("keytool ran although the keystore exists")
		}
	}
}

func TestAssembleToolFailure(t *testing.T) {
	f := newFixture(t)
	f.tools.fail = "d8"
	err := f.asm.Assemble(context.Background(), f.in, filepath.Join(f.dir, "out.apk"))
	var berr *build.Error
	if !errors.As(err, &berr) {
		t.Fatalf("Assemble returned %v; want *build.Error", err)
	}
	if !strings.Contains(berr.Error(), "something broke") {
		t.Errorf("Error %q does not include tool output", berr.Error())
	}
}

func TestAssembleNativeConflict(t *testing.T) {
	f := newFixture(t)
	other := filepath.Join(f.dir, "deps/baz/libfoo.so")
	if err := testutil.WriteFiles(f.dir, map[string]string{"deps/baz/libfoo.so": "different"}); err != nil {
		t.Fatal(err)
	}
	f.in.Deps = append(f.in.Deps, &extract.Contribution{
		Coordinate: maven.Coordinate{Group: "com.baz", Artifact: "baz", Version: "3.0.0"},
		NativeLibs: []extract.NativeLib{{ABI: "arm64-v8a", Name: "libfoo.so", Path: other}},
	})
	err := f.asm.Assemble(context.Background(), f.in, filepath.Join(f.dir, "out.apk"))
	var merr *MergeConflictError
	if !errors.As(err, &merr) {
		t.Fatalf("Assemble returned %v; want *MergeConflictError", err)
	}
	want := &MergeConflictError{Entry: "lib/arm64-v8a/libfoo.so", First: "com.foo:foo:1.0.0", Second: "com.baz:baz:3.0.0"}
	if diff := cmp.Diff(merr, want); diff != "" {
		t.Errorf("Conflict mismatch (-got +want):\n%s", diff)
	}
	if len(f.tools.cmds) > 0 {
		t.Errorf("Tools ran despite the conflict: %v", f.tools.cmds)
	}
}
