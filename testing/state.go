// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.vampire.dev/vampire/internal/logging"
)

// State is passed to a test function and reports its outcome.
type State struct {
	ctx  context.Context
	name string

	mu     sync.Mutex
	errors []string
}

func newState(ctx context.Context, name string) *State {
	return &State{ctx: ctx, name: name}
}

// Name returns the name of the running test.
func (s *State) Name() string {
	return s.name
}

// Log formats its arguments using default formatting and logs them.
func (s *State) Log(args ...interface{}) {
	logging.Info(s.ctx, args...)
}

// Logf is similar to Log but formats its arguments using fmt.Sprintf.
func (s *State) Logf(format string, args ...interface{}) {
	logging.Infof(s.ctx, format, args...)
}

// Error formats its arguments using default formatting and marks the test
// as having failed while letting it continue execution.
func (s *State) Error(args ...interface{}) {
	s.recordError(fmt.Sprint(args...))
}

// Errorf is similar to Error but formats its arguments using fmt.Sprintf.
func (s *State) Errorf(format string, args ...interface{}) {
	s.recordError(fmt.Sprintf(format, args...))
}

// Fatal is similar to Error but additionally immediately ends the test.
func (s *State) Fatal(args ...interface{}) {
	s.recordError(fmt.Sprint(args...))
	runtime.Goexit()
}

// Fatalf is similar to Fatal but formats its arguments using fmt.Sprintf.
func (s *State) Fatalf(format string, args ...interface{}) {
	s.recordError(fmt.Sprintf(format, args...))
	runtime.Goexit()
}

// HasError reports whether the test has already reported errors.
func (s *State) HasError() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors) > 0
}

// Errors returns the reported error messages.
func (s *State) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

func (s *State) recordError(msg string) {
	logging.Error(s.ctx, "Error: ", msg)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}
