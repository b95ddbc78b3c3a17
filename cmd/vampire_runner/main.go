// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package main implements the vampire_runner executable, which loads a test
// library on the device and runs its tests.
package main

import (
	"os"

	"go.vampire.dev/vampire/internal/runner"
)

func main() {
	os.Exit(runner.Main(os.Args[1:]))
}
