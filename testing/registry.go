// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/protocol"
	"go.vampire.dev/vampire/internal/usercode"
)

// gracePeriod is how long a test may keep running past its timeout before
// it is abandoned.
const gracePeriod = 30 * time.Second

// Registry holds tests in registration order.
type Registry struct {
	mu        sync.Mutex
	tests     []*Test
	testNames map[string]*Test
	errors    []error
}

// NewRegistry returns a new test registry.
func NewRegistry() *Registry {
	return &Registry{testNames: make(map[string]*Test)}
}

// AddTest adds t to the registry. Errors are also recorded so that they
// can be reported when registration happens in init functions.
func (r *Registry) AddTest(t *Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := t.validate(); err != nil {
		r.errors = append(r.errors, err)
		return err
	}
	if _, ok := r.testNames[t.Name]; ok {
		err := fmt.Errorf("test %q already registered", t.Name)
		r.errors = append(r.errors, err)
		return err
	}
	t = t.clone()
	r.tests = append(r.tests, t)
	r.testNames[t.Name] = t
	return nil
}

// AllTests returns copies of all registered tests.
func (r *Registry) AllTests() []*Test {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := make([]*Test, len(r.tests))
	for i, t := range r.tests {
		ts[i] = t.clone()
	}
	return ts
}

// Errors returns errors encountered while registering tests.
func (r *Registry) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// Manifest returns the metadata of registered tests in registration order.
// It fails if any registration failed.
func (r *Registry) Manifest() ([]protocol.TestMetadata, error) {
	if errs := r.Errors(); len(errs) > 0 {
		return nil, errors.Errorf("%d test registration error(s), first: %v", len(errs), errs[0])
	}
	var ms []protocol.TestMetadata
	for _, t := range r.AllTests() {
		ms = append(ms, t.Metadata())
	}
	return ms, nil
}

// Invoke runs the test named name and reports whether it passed. The
// ShouldPanic flag of the test is already applied to the returned value.
//
// An error is returned only when the test could not be invoked at all, e.g.
// because no such test exists or ctx was canceled. Failures of the test
// itself, including panics and timeouts, are reported as false.
func (r *Registry) Invoke(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	t, ok := r.testNames[name]
	r.mu.Unlock()
	if !ok {
		return false, errors.Errorf("no test named %q", name)
	}

	ctx = logging.SetLogPrefix(ctx, fmt.Sprintf("[%s] ", name))
	var s *State
	err := usercode.SafeCall(ctx, name, t.timeout(), gracePeriod, func(ctx context.Context) error {
		s = newState(ctx, name)
		t.Func(ctx, s)
		return nil
	})

	var pe *usercode.PanicError
	panicked := errors.As(err, &pe)
	if err != nil && !panicked {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		logging.Error(ctx, "Test did not finish: ", err)
		return false, nil
	}

	if t.ShouldPanic {
		if !panicked {
			logging.Info(ctx, "Test did not panic as expected")
		}
		return panicked, nil
	}
	if panicked {
		logging.Error(ctx, "Test panicked: ", pe.Value)
		return false, nil
	}
	return !s.HasError(), nil
}
