// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.vampire.dev/vampire/testutil"
)

const serial = "emulator-5554"

// fakeProbe reports presence from a map; missing stages are present.
type fakeProbe map[Stage]bool

func (p fakeProbe) Present(ctx context.Context, s Stage, fp string) (bool, error) {
	present, ok := p[s]
	return !ok || present, nil
}

var baseInputs = Inputs{
	SourceDigest: "src-1",
	ABI:          "arm64-v8a",
	SDK:          30,
	Dependencies: []string{"g:a:1@sha1", "g:b:2@sha2"},
	Permissions:  []string{"android.permission.INTERNET"},
	HostPackage:  "com.vampire.host",
}

func openPlanner(t *testing.T) *Planner {
	t.Helper()
	p, err := Open(filepath.Join(testutil.TempDir(t), FileName))
	if err != nil {
		t.Fatal("Open failed: ", err)
	}
	return p
}

func recordAll(t *testing.T, p *Planner, fps Fingerprints) {
	t.Helper()
	for _, s := range Stages {
		if err := p.Record(s, serial, fps.Of(s)); err != nil {
			t.Fatalf("Record(%v) failed: %v", s, err)
		}
	}
}

func runs(t *testing.T, p *Planner, in Inputs, probe Probe, force bool) map[Stage]bool {
	t.Helper()
	plan, err := p.Plan(context.Background(), Compute(in), serial, Stages, probe, force)
	if err != nil {
		t.Fatal("Plan failed: ", err)
	}
	return plan.Run
}

func TestPlanFreshBuildRunsEverything(t *testing.T) {
	p := openPlanner(t)
	got := runs(t, p, baseInputs, fakeProbe{}, false)
	want := map[Stage]bool{Compile: true, Package: true, Install: true}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Plan mismatch (-got +want):\n%s", diff)
	}
}

func TestPlanUpToDate(t *testing.T) {
	p := openPlanner(t)
	recordAll(t, p, Compute(baseInputs))

	got := runs(t, p, baseInputs, fakeProbe{}, false)
	want := map[Stage]bool{Compile: false, Package: false, Install: false}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Plan mismatch (-got +want):\n%s", diff)
	}
}

func TestPlanPermissionChangeRepackages(t *testing.T) {
	p := openPlanner(t)
	recordAll(t, p, Compute(baseInputs))

	in := baseInputs
	in.Permissions = append([]string{"android.permission.CAMERA"}, in.Permissions...)
	got := runs(t, p, in, fakeProbe{}, false)
	want := map[Stage]bool{Compile: false, Package: true, Install: true}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Plan mismatch (-got +want):\n%s", diff)
	}
}

func TestPlanSourceChangeRebuildsEverything(t *testing.T) {
	p := openPlanner(t)
	recordAll(t, p, Compute(baseInputs))

	in := baseInputs
	in.SourceDigest = "src-2"
	got := runs(t, p, in, fakeProbe{}, false)
	want := map[Stage]bool{Compile: true, Package: true, Install: true}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Plan mismatch (-got +want):\n%s", diff)
	}
}

func TestPlanMissingOutput(t *testing.T) {
	p := openPlanner(t)
	recordAll(t, p, Compute(baseInputs))

	for _, tc := range []struct {
		missing Stage
		want    map[Stage]bool
	}{
		{Compile, map[Stage]bool{Compile: true, Package: true, Install: true}},
		{Package, map[Stage]bool{Compile: false, Package: true, Install: true}},
		{Install, map[Stage]bool{Compile: false, Package: false, Install: true}},
	} {
		got := runs(t, p, baseInputs, fakeProbe{tc.missing: false}, false)
		if diff := cmp.Diff(got, tc.want); diff != "" {
			t.Errorf("Plan with %v output missing mismatch (-got +want):\n%s", tc.missing, diff)
		}
	}
}

func TestPlanForce(t *testing.T) {
	p := openPlanner(t)
	recordAll(t, p, Compute(baseInputs))

	plan, err := p.Plan(context.Background(), Compute(baseInputs), serial, Stages, fakeProbe{}, true)
	if err != nil {
		t.Fatal("Plan failed: ", err)
	}
	for _, s := range Stages {
		if !plan.Runs(s) || plan.Reasons[s] != "forced" {
			t.Errorf("Stage %v: runs=%v reason=%q; want forced", s, plan.Runs(s), plan.Reasons[s])
		}
	}
}

func TestPlanInstallPerDevice(t *testing.T) {
	p := openPlanner(t)
	recordAll(t, p, Compute(baseInputs))

	plan, err := p.Plan(context.Background(), Compute(baseInputs), "other-device", Stages, fakeProbe{}, false)
	if err != nil {
		t.Fatal("Plan failed: ", err)
	}
	if plan.Runs(Compile) || plan.Runs(Package) || !plan.Runs(Install) {
		t.Errorf("Plan for a new device = %v; want only install", plan.Run)
	}
}

func TestPlanWithoutInstall(t *testing.T) {
	p := openPlanner(t)
	plan, err := p.Plan(context.Background(), Compute(baseInputs), "", []Stage{Compile, Package}, fakeProbe{}, false)
	if err != nil {
		t.Fatal("Plan failed: ", err)
	}
	if _, ok := plan.Run[Install]; ok {
		t.Error("Install was planned although not requested")
	}
}

func TestRecordPersists(t *testing.T) {
	path := filepath.Join(testutil.TempDir(t), "out", FileName)
	p, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	fps := Compute(baseInputs)
	if err := p.Record(Package, "", fps.Package); err != nil {
		t.Fatal("Record failed: ", err)
	}

	p2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := p2.Recorded(Package, ""); got != fps.Package {
		t.Errorf("Recorded(Package) = %q; want %q", got, fps.Package)
	}
}

func TestRecordDropsLaterStages(t *testing.T) {
	p := openPlanner(t)
	fps := Compute(baseInputs)
	recordAll(t, p, fps)

	// Recompiling invalidates the package and every installation even though
	// their fingerprints did not change.
	if err := p.Record(Compile, "", fps.Compile); err != nil {
		t.Fatal("Record failed: ", err)
	}
	got := runs(t, p, baseInputs, fakeProbe{}, false)
	want := map[Stage]bool{Compile: false, Package: true, Install: true}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Plan after recompiling mismatch (-got +want):\n%s", diff)
	}

	if err := p.Record(Package, "", fps.Package); err != nil {
		t.Fatal("Record failed: ", err)
	}
	got = runs(t, p, baseInputs, fakeProbe{}, false)
	want = map[Stage]bool{Compile: false, Package: false, Install: true}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Plan after repackaging mismatch (-got +want):\n%s", diff)
	}
}

func TestContinue(t *testing.T) {
	ctx := context.Background()
	fps := Compute(baseInputs)

	for _, tc := range []struct {
		name    string
		probe   fakeProbe
		install bool
		reason  string
	}{
		{"up to date", fakeProbe{}, false, ""},
		{"package missing", fakeProbe{Package: false}, true, "upstream stage changed"},
		{"install missing", fakeProbe{Install: false}, true, "output missing"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := openPlanner(t)
			recordAll(t, p, fps)

			plan, err := p.Plan(ctx, fps, "", []Stage{Compile, Package}, tc.probe, false)
			if err != nil {
				t.Fatal("Plan failed: ", err)
			}
			plan, err = p.Continue(ctx, plan, fps, serial, []Stage{Install}, tc.probe, false)
			if err != nil {
				t.Fatal("Continue failed: ", err)
			}
			if plan.Runs(Install) != tc.install || plan.Reasons[Install] != tc.reason {
				t.Errorf("Install: runs=%v reason=%q; want runs=%v reason=%q",
					plan.Runs(Install), plan.Reasons[Install], tc.install, tc.reason)
			}
		})
	}
}

func TestComputeIgnoresOrder(t *testing.T) {
	a := baseInputs
	b := baseInputs
	b.Dependencies = []string{"g:b:2@sha2", "g:a:1@sha1"}
	b.Permissions = []string{"android.permission.INTERNET", "android.permission.INTERNET"}
	if Compute(a) != Compute(b) {
		t.Error("Fingerprints depend on dependency or permission order")
	}

	c := baseInputs
	c.SDK = 31
	fa, fc := Compute(a), Compute(c)
	if fa.Compile == fc.Compile || fa.Package == fc.Package {
		t.Error("SDK change did not change fingerprints")
	}
}

func TestSourceDigest(t *testing.T) {
	dir := testutil.TempDir(t)
	if err := testutil.WriteFiles(dir, map[string]string{
		"go.mod":              "module example.com/tests\n",
		"math_test.go":        "package tests\n",
		"README.md":           "docs",
		"testdata/data.go":    "package data\n",
		"target/vampire/x.go": "package out\n",
	}); err != nil {
		t.Fatal(err)
	}
	d1, err := SourceDigest(dir)
	if err != nil {
		t.Fatal("SourceDigest failed: ", err)
	}

	for _, ignored := range []string{"README.md", "testdata/data.go", "target/vampire/x.go"} {
		if err := testutil.WriteFiles(dir, map[string]string{ignored: "changed"}); err != nil {
			t.Fatal(err)
		}
	}
	if d2, _ := SourceDigest(dir); d2 != d1 {
		t.Error("Digest changed after editing ignored files")
	}

	if err := testutil.WriteFiles(dir, map[string]string{"math_test.go": "package tests // edited\n"}); err != nil {
		t.Fatal(err)
	}
	if d3, _ := SourceDigest(dir); d3 == d1 {
		t.Error("Digest did not change after editing a source file")
	}
}
