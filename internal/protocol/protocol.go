// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package protocol defines the messages exchanged across the device
// boundary: launch arguments sent to the host application, test metadata
// reported by a test library, and the result payload sent back.
package protocol

import (
	"fmt"
	"strings"

	"go.vampire.dev/vampire/errors"
)

// Launch argument keys passed with "am instrument -e".
const (
	ArgLibPath    = "lib_path"
	ArgTestFilter = "test_filter"
)

// Reserved payload keys. No test may use one of these names.
const (
	KeyTotal  = "total_tests"
	KeyPassed = "passed_tests"
	KeyFailed = "failed_tests"
	KeyOrder  = "test_order"
	KeyError  = "error"
)

var reservedKeys = map[string]struct{}{
	KeyTotal:  {},
	KeyPassed: {},
	KeyFailed: {},
	KeyOrder:  {},
	KeyError:  {},
}

// IsReserved reports whether name collides with a run-level payload key.
func IsReserved(name string) bool {
	_, ok := reservedKeys[name]
	return ok
}

// LaunchArgs are the arguments of a single launch.
type LaunchArgs struct {
	// LibPath is the on-device path of the test library.
	LibPath string
	// TestFilter selects tests whose name contains it. Empty selects all.
	TestFilter string
}

// Extras returns the arguments as "am instrument -e" key/value pairs in a
// stable order.
func (a *LaunchArgs) Extras() [][2]string {
	ex := [][2]string{{ArgLibPath, a.LibPath}}
	if a.TestFilter != "" {
		ex = append(ex, [2]string{ArgTestFilter, a.TestFilter})
	}
	return ex
}

// TestMetadata describes one test exported by a test library.
type TestMetadata struct {
	Name        string `json:"name"`
	Async       bool   `json:"async,omitempty"`
	ShouldPanic bool   `json:"should_panic,omitempty"`
}

// Matches reports whether the test is selected by filter, a case-sensitive
// substring. The empty filter matches everything.
func (m *TestMetadata) Matches(filter string) bool {
	return strings.Contains(m.Name, filter)
}

// Status is the run-level outcome of a launch.
type Status int

const (
	// StatusOK means every selected test was invoked.
	StatusOK Status = iota
	// StatusCancelled means the run aborted before or outside test
	// invocation, e.g. the library failed to load.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TestResult is the outcome of a single test.
type TestResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// Payload is the result of a launch.
type Payload struct {
	Status Status
	// Results maps test names to their outcome.
	Results map[string]bool
	// Order lists test names in manifest order.
	Order []string
	Total  int
	Passed int
	Failed int
	// Error is set when the run was cancelled. A cancelled payload carries
	// no per-test entries.
	Error string
}

// NewPayload returns an empty successful payload.
func NewPayload() *Payload {
	return &Payload{Results: make(map[string]bool)}
}

// Cancelled returns a payload for a run that aborted with err.
func Cancelled(err error) *Payload {
	return &Payload{Status: StatusCancelled, Results: make(map[string]bool), Error: err.Error()}
}

// Add records the outcome of a test and updates the counts.
func (p *Payload) Add(name string, passed bool) {
	if _, ok := p.Results[name]; !ok {
		p.Order = append(p.Order, name)
		p.Total++
	} else if p.Results[name] {
		p.Passed--
	}
	p.Results[name] = passed
	if passed {
		p.Passed++
	}
	p.Failed = p.Total - p.Passed
}

// TestResults returns per-test results in manifest order.
func (p *Payload) TestResults() []TestResult {
	rs := make([]TestResult, 0, len(p.Order))
	for _, name := range p.Order {
		rs = append(rs, TestResult{Name: name, Passed: p.Results[name]})
	}
	return rs
}

// Check verifies the internal consistency of p.
func (p *Payload) Check() error {
	if p.Status == StatusCancelled {
		if p.Error == "" {
			return errors.New("cancelled payload without error")
		}
		if len(p.Results) > 0 {
			return errors.New("cancelled payload with test results")
		}
		return nil
	}
	if p.Failed != p.Total-p.Passed {
		return errors.Errorf("inconsistent counts: total=%d passed=%d failed=%d", p.Total, p.Passed, p.Failed)
	}
	if len(p.Results) != p.Total {
		return errors.Errorf("%d results for %d tests", len(p.Results), p.Total)
	}
	passed := 0
	for _, ok := range p.Results {
		if ok {
			passed++
		}
	}
	if passed != p.Passed {
		return errors.Errorf("%d passing results but passed_tests=%d", passed, p.Passed)
	}
	return nil
}
