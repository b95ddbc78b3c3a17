// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package testing

import "sync"

var (
	globalRegistry     *Registry // singleton, initialized on first use
	globalRegistryOnce sync.Once
)

// GlobalRegistry returns a global registry containing tests
// registered by calls to AddTest.
func GlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		if globalRegistry == nil {
			globalRegistry = NewRegistry()
		}
	})
	return globalRegistry
}

// AddTest adds test t to the global registry. Registration errors are
// reported when the runner enumerates tests.
func AddTest(t *Test) {
	GlobalRegistry().AddTest(t)
}

// SetGlobalRegistryForTesting temporarily sets reg as the global registry.
// The caller must call the returned function later to restore the original
// registry.
func SetGlobalRegistryForTesting(reg *Registry) (restore func()) {
	orig := GlobalRegistry()
	globalRegistry = reg
	return func() {
		globalRegistry = orig
	}
}
