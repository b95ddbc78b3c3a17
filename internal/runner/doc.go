// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

/*
Package runner implements vampire_runner, the on-device half of a test run.

The host application's instrumentation starts vampire_runner with the launch
arguments it received. The runner loads the test library, enumerates its
tests, invokes the selected ones in manifest order and writes a single
JSON-marshaled result payload to stdout. Everything the tests print to
stdout or stderr, and the runner's own logs, go to stderr, which the host
application forwards to logcat.

The runner exits with status 0 whenever it managed to write a payload, since
failures of the run are already communicated in the payload. A nonzero
status means the payload itself could not be produced.
*/
package runner
