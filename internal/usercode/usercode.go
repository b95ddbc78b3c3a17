// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package usercode calls test functions supplied by test authors without
// letting their panics or hangs take the runner down.
package usercode

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.vampire.dev/vampire/errors"
)

// PanicError is returned by SafeCall when f panicked.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// SafeCall runs f on a new goroutine and waits for it to return.
//
// f receives a context whose deadline is timeout. If f does not return
// within timeout+gracePeriod, or ctx is canceled first, SafeCall returns an
// error without waiting for f; f keeps running in the background. A panic in
// f is recovered and returned as a *PanicError.
func SafeCall(ctx context.Context, name string, timeout, gracePeriod time.Duration, f func(ctx context.Context) error) error {
	// The caller and the goroutine race for this token. Whoever takes it
	// decides the outcome; the loser's result is discarded.
	var token int32
	takeToken := func() bool {
		return atomic.CompareAndSwapInt32(&token, 0, 1)
	}

	var result error
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			val := recover()
			if !takeToken() {
				return
			}
			if val != nil {
				result = &PanicError{Value: val}
			}
		}()

		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		result = f(fctx)
	}()

	tm := time.NewTimer(timeout + gracePeriod)
	defer tm.Stop()

	select {
	case <-done:
		return result
	case <-tm.C:
		if takeToken() {
			return errors.Errorf("%s did not return on timeout", name)
		}
	case <-ctx.Done():
		if takeToken() {
			return ctx.Err()
		}
	}
	// The goroutine finished concurrently and owns the result.
	<-done
	return result
}
