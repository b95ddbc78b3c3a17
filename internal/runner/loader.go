// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package runner

import (
	"context"
	"plugin"

	"go.vampire.dev/vampire/testing"
)

// PluginLoader loads test libraries built with -buildmode=plugin.
//
// Opening the plugin runs its init functions, which register tests in the
// global registry of the testing package. The runner and the plugin share
// that package, so the registry seen here is the one the plugin filled.
type PluginLoader struct{}

// Load implements Loader.
func (PluginLoader) Load(ctx context.Context, path string) (Library, error) {
	if _, err := plugin.Open(path); err != nil {
		return nil, err
	}
	return testing.GlobalRegistry(), nil
}
