// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"fmt"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/assemble"
	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/cache"
	"go.vampire.dev/vampire/internal/device"
	"go.vampire.dev/vampire/internal/resolve"
)

// Kind classifies engine-level failures.
type Kind string

const (
	// KindConfig is an invalid or missing project configuration.
	KindConfig Kind = "ConfigError"
	// KindResolution is a dependency that could not be resolved, fetched
	// or merged.
	KindResolution Kind = "ResolutionError"
	// KindBuild is a failed compile, dex, link or sign step.
	KindBuild Kind = "BuildError"
	// KindDevice is a failed device connection, install, push or launch.
	KindDevice Kind = "DeviceError"
	// KindBoundary is a test run cancelled by the runner on the device.
	KindBoundary Kind = "TestBoundaryError"
)

// StageError is returned when a stage of a run fails.
type StageError struct {
	Stage string
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// classify wraps err from stage in a *StageError, deriving its kind from the
// error where possible and falling back to def.
func classify(stage string, def Kind, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}

	kind := def
	var (
		resErr   *resolve.ResolutionError
		fetchErr *cache.FetchError
		mergeErr *assemble.MergeConflictError
		buildErr *build.Error
		devErr   *device.Error
	)
	switch {
	case errors.As(err, &resErr), errors.As(err, &fetchErr), errors.As(err, &mergeErr):
		kind = KindResolution
	case errors.As(err, &buildErr):
		kind = KindBuild
	case errors.As(err, &devErr):
		kind = KindDevice
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the kind of err, or empty if it did not come from a stage.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
