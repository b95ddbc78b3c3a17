// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package device

import "context"

// doAsync runs body in a goroutine and waits for it or for ctx.
//
// adb requests cannot be interrupted, so body may keep running after ctx is
// canceled. If body returns non-nil or ctx is canceled before body
// finishes, clean is called in the same goroutine after body finishes.
// clean is not run if it is nil.
func doAsync(ctx context.Context, body func() error, clean func()) (retErr error) {
	bodyCh := make(chan error, 1) // result of body is sent
	retCh := make(chan error, 1)  // result of doAsync is sent

	go func() {
		bodyCh <- body()
		if err := <-retCh; err != nil && clean != nil {
			clean()
		}
	}()
	defer func() { retCh <- retErr }()

	// If ctx is already canceled, always return ctx.Err().
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	select {
	case err := <-bodyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
