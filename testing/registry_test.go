// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"context"
	gotesting "testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/logging/loggingtest"
	"go.vampire.dev/vampire/internal/protocol"
)

func pass(context.Context, *State) {}

func TestManifestOrder(t *gotesting.T) {
	reg := NewRegistry()
	for _, test := range []*Test{
		{Name: "test_zeta", Func: pass},
		{Name: "test_alpha", Func: pass, ShouldPanic: true},
		{Name: "test_mid", Func: pass, Async: true},
	} {
		if err := reg.AddTest(test); err != nil {
			t.Fatal("AddTest failed: ", err)
		}
	}

	got, err := reg.Manifest()
	if err != nil {
		t.Fatal("Manifest failed: ", err)
	}
	want := []protocol.TestMetadata{
		{Name: "test_zeta"},
		{Name: "test_alpha", ShouldPanic: true},
		{Name: "test_mid", Async: true},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Manifest mismatch (-got +want):\n%s", diff)
	}
}

func TestAddTestInvalid(t *gotesting.T) {
	for _, test := range []*Test{
		{Name: "", Func: pass},
		{Name: "has space", Func: pass},
		{Name: "a,b", Func: pass},
		{Name: "a=b", Func: pass},
		{Name: protocol.KeyTotal, Func: pass},
		{Name: protocol.KeyError, Func: pass},
		{Name: "no_func"},
		{Name: "negative", Func: pass, Timeout: -time.Second},
	} {
		reg := NewRegistry()
		if err := reg.AddTest(test); err == nil {
			t.Errorf("AddTest(%q) succeeded", test.Name)
		}
		if _, err := reg.Manifest(); err == nil {
			t.Errorf("Manifest succeeded after invalid AddTest(%q)", test.Name)
		}
	}
}

func TestAddTestDuplicateName(t *gotesting.T) {
	reg := NewRegistry()
	if err := reg.AddTest(&Test{Name: "test_a", Func: pass}); err != nil {
		t.Fatal("AddTest failed: ", err)
	}
	if err := reg.AddTest(&Test{Name: "test_a", Func: pass}); err == nil {
		t.Error("Duplicate AddTest succeeded")
	}
	if errs := reg.Errors(); len(errs) != 1 {
		t.Errorf("Errors() = %v; want 1 error", errs)
	}
}

func TestAllTestsReturnsCopies(t *gotesting.T) {
	reg := NewRegistry()
	orig := &Test{Name: "test_a", Func: pass}
	reg.AddTest(orig)
	orig.Name = "mutated"
	ts := reg.AllTests()
	ts[0].Name = "mutated_again"
	if got := reg.AllTests()[0].Name; got != "test_a" {
		t.Errorf("Registered name = %q; want %q", got, "test_a")
	}
}

func TestInvoke(t *gotesting.T) {
	reg := NewRegistry()
	for _, test := range []*Test{
		{Name: "passes", Func: pass},
		{Name: "errors", Func: func(ctx context.Context, s *State) { s.Error("bad value") }},
		{Name: "fatal", Func: func(ctx context.Context, s *State) {
			s.Fatal("stop")
			panic("not reached")
		}},
		{Name: "panics", Func: func(context.Context, *State) { panic("boom") }},
		{Name: "should_panic_and_does", ShouldPanic: true, Func: func(context.Context, *State) { panic("expected") }},
		{Name: "should_panic_but_does_not", ShouldPanic: true, Func: pass},
		{Name: "times_out", Timeout: time.Millisecond, Func: func(ctx context.Context, s *State) {
			<-ctx.Done()
			s.Error("Timed out: ", ctx.Err())
		}},
	} {
		if err := reg.AddTest(test); err != nil {
			t.Fatal("AddTest failed: ", err)
		}
	}

	for _, tc := range []struct {
		name string
		want bool
	}{
		{"passes", true},
		{"errors", false},
		{"fatal", false},
		{"panics", false},
		{"should_panic_and_does", true},
		{"should_panic_but_does_not", false},
		{"times_out", false},
	} {
		got, err := reg.Invoke(context.Background(), tc.name)
		if err != nil {
			t.Errorf("Invoke(%q) failed: %v", tc.name, err)
		} else if got != tc.want {
			t.Errorf("Invoke(%q) = %v; want %v", tc.name, got, tc.want)
		}
	}
}

func TestInvokeUnknown(t *gotesting.T) {
	if _, err := NewRegistry().Invoke(context.Background(), "missing"); err == nil {
		t.Error("Invoke of an unknown test succeeded")
	}
}

func TestInvokeLogs(t *gotesting.T) {
	reg := NewRegistry()
	reg.AddTest(&Test{Name: "logs", Func: func(ctx context.Context, s *State) {
		s.Logf("value=%d", 42)
		s.Error("Failed to check: ", "mismatch")
	}})

	logger := loggingtest.NewLogger(t, logging.LevelInfo)
	ctx := logging.AttachLogger(context.Background(), logger)
	if ok, err := reg.Invoke(ctx, "logs"); err != nil || ok {
		t.Fatalf("Invoke = %v, %v; want false, nil", ok, err)
	}
	want := []string{"[logs] value=42", "[logs] Error: Failed to check: mismatch"}
	if diff := cmp.Diff(logger.Logs(), want); diff != "" {
		t.Errorf("Logs mismatch (-got +want):\n%s", diff)
	}
}

func TestGlobalRegistry(t *gotesting.T) {
	reg := NewRegistry()
	restore := SetGlobalRegistryForTesting(reg)
	defer restore()

	AddTest(&Test{Name: "global_test", Func: pass})
	if ts := reg.AllTests(); len(ts) != 1 || ts[0].Name != "global_test" {
		t.Errorf("AllTests() = %v; want [global_test]", ts)
	}
}
