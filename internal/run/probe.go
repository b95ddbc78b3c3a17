// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"context"
	"os"

	"go.vampire.dev/vampire/internal/config"
	"go.vampire.dev/vampire/internal/device"
	"go.vampire.dev/vampire/internal/planner"
)

// fileProbe checks build outputs on disk.
type fileProbe struct {
	layout *config.Layout
}

func (p *fileProbe) Present(ctx context.Context, s planner.Stage, fp string) (bool, error) {
	var paths []string
	switch s {
	case planner.Compile:
		paths = []string{p.layout.TestLib(), p.layout.Runner()}
	case planner.Package:
		paths = []string{p.layout.APK()}
	default:
		return false, nil
	}
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return false, nil
		} else if err != nil {
			return false, err
		}
	}
	return true, nil
}

// deviceProbe checks the installation on a device.
type deviceProbe struct {
	drv     *device.Driver
	libName string
}

func (p *deviceProbe) Present(ctx context.Context, s planner.Stage, fp string) (bool, error) {
	if s != planner.Install {
		return false, nil
	}
	st, err := p.drv.State(ctx, p.libName)
	if err != nil {
		return false, err
	}
	return st.InstalledFingerprint == fp, nil
}
