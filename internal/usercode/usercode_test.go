// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package usercode

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSafeCallReturnsError(t *testing.T) {
	want := errors.New("assertion failed")
	err := SafeCall(context.Background(), "test", time.Minute, time.Second, func(ctx context.Context) error {
		return want
	})
	if err != want {
		t.Errorf("SafeCall = %v; want %v", err, want)
	}
}

func TestSafeCallRecoversPanic(t *testing.T) {
	err := SafeCall(context.Background(), "test", time.Minute, time.Second, func(ctx context.Context) error {
		panic("index out of range")
	})
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("SafeCall = %v; want *PanicError", err)
	}
	if pe.Value != "index out of range" {
		t.Errorf("Panic value = %v; want %q", pe.Value, "index out of range")
	}
}

func TestSafeCallTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	err := SafeCall(context.Background(), "hang", time.Millisecond, time.Millisecond, func(ctx context.Context) error {
		<-release
		return nil
	})
	if err == nil {
		t.Error("SafeCall succeeded for a hanging function")
	}
}

func TestSafeCallCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release := make(chan struct{})
	defer close(release)

	err := SafeCall(ctx, "test", time.Minute, time.Second, func(ctx context.Context) error {
		<-release
		return nil
	})
	if err != context.Canceled {
		t.Errorf("SafeCall = %v; want %v", err, context.Canceled)
	}
}
