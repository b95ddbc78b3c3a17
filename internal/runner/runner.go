// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"context"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/protocol"
)

// Library is a loaded test library.
type Library interface {
	// Manifest returns the tests of the library in declaration order.
	Manifest() ([]protocol.TestMetadata, error)
	// Invoke runs a test and reports whether it passed, with the
	// ShouldPanic flag already applied. An error means the test could not
	// be invoked.
	Invoke(ctx context.Context, name string) (bool, error)
}

// Loader loads test libraries.
type Loader interface {
	Load(ctx context.Context, path string) (Library, error)
}

// Run performs a launch: it loads the library at args.LibPath, invokes the
// tests matching args.TestFilter in manifest order and aggregates their
// results.
//
// A test that cannot be invoked counts as failed and the run continues. If
// the library cannot be loaded or enumerated, the returned payload is
// cancelled and carries no per-test results.
func Run(ctx context.Context, loader Loader, args *protocol.LaunchArgs) *protocol.Payload {
	if args.LibPath == "" {
		return protocol.Cancelled(errors.New("missing " + protocol.ArgLibPath + " argument"))
	}

	logging.Debug(ctx, "Loading test library: ", args.LibPath)
	lib, err := loader.Load(ctx, args.LibPath)
	if err != nil {
		return protocol.Cancelled(errors.Wrapf(err, "failed to load %s", args.LibPath))
	}

	manifest, err := lib.Manifest()
	if err != nil {
		return protocol.Cancelled(errors.Wrap(err, "failed to enumerate tests"))
	}

	var selected []protocol.TestMetadata
	for _, m := range manifest {
		if m.Matches(args.TestFilter) {
			selected = append(selected, m)
		}
	}
	logging.Infof(ctx, "Running %d tests", len(selected))

	p := protocol.NewPayload()
	for i, m := range selected {
		if err := ctx.Err(); err != nil {
			// Tests not reached count as failed.
			for _, rest := range selected[i:] {
				logging.Infof(ctx, "Test %s not run: %v", rest.Name, err)
				p.Add(rest.Name, false)
			}
			break
		}

		logging.Info(ctx, "Running test: ", m.Name, annotation(m))
		passed, err := lib.Invoke(ctx, m.Name)
		if err != nil {
			logging.Errorf(ctx, "Test %s could not be invoked: %v", m.Name, err)
			passed = false
		}
		p.Add(m.Name, passed)
		if passed {
			logging.Infof(ctx, "Test %s PASSED", m.Name)
		} else {
			logging.Infof(ctx, "Test %s FAILED", m.Name)
		}
	}

	logging.Infof(ctx, "Test run complete: %d/%d passed", p.Passed, p.Total)
	return p
}

func annotation(m protocol.TestMetadata) string {
	var s string
	if m.ShouldPanic {
		s += " (should_panic)"
	}
	if m.Async {
		s += " (async)"
	}
	return s
}
