// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package testing is the public API for writing tests that run on a device.
//
// A test package registers its tests from init functions:
//
//	func init() {
//		testing.AddTest(&testing.Test{
//			Name: "Network_Fetch",
//			Func: NetworkFetch,
//		})
//	}
//
//	func NetworkFetch(ctx context.Context, s *testing.State) {
//		if err := fetch(ctx); err != nil {
//			s.Fatal("Failed to fetch: ", err)
//		}
//	}
//
// The package is then built as a Go plugin, deployed to the device and
// loaded by the runner, which invokes the registered tests in registration
// order.
package testing

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.vampire.dev/vampire/internal/protocol"
)

// DefaultTimeout is the timeout of tests that do not set one.
const DefaultTimeout = 2 * time.Minute

// TestFunc is the body of a test.
type TestFunc func(ctx context.Context, s *State)

// Test describes a test.
type Test struct {
	// Name identifies the test. It must be unique within a test library and
	// is matched against the test filter.
	Name string
	// Func is the test body.
	Func TestFunc
	// ShouldPanic inverts the outcome: the test passes only if Func panics.
	ShouldPanic bool
	// Async marks tests that mainly wait on background work. It is reported
	// in the test manifest.
	Async bool
	// Timeout bounds the execution of Func. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Names are also keys of the result payload and elements of the
// comma-separated test order, so they are restricted to identifier-like
// strings.
var testNameRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

func (t *Test) validate() error {
	if !testNameRegexp.MatchString(t.Name) {
		return fmt.Errorf("invalid test name %q", t.Name)
	}
	if protocol.IsReserved(t.Name) {
		return fmt.Errorf("test name %q is reserved", t.Name)
	}
	if t.Func == nil {
		return fmt.Errorf("test %s has no function", t.Name)
	}
	if t.Timeout < 0 {
		return fmt.Errorf("test %s has negative timeout %v", t.Name, t.Timeout)
	}
	return nil
}

func (t *Test) timeout() time.Duration {
	if t.Timeout == 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

// Metadata returns the manifest entry of t.
func (t *Test) Metadata() protocol.TestMetadata {
	return protocol.TestMetadata{Name: t.Name, Async: t.Async, ShouldPanic: t.ShouldPanic}
}

func (t *Test) clone() *Test {
	c := *t
	return &c
}
