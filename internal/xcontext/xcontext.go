// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package xcontext provides contexts whose deadline reports a custom error.
//
// Every blocking stage of a run (download, subprocess, device command,
// launch) has its own time limit. When a limit expires the stage should fail
// with an error naming the stage instead of a bare context.DeadlineExceeded,
// so the contexts here carry the error to report.
package xcontext

import (
	"context"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/clock"
)

// clk is replaced in tests.
var clk clock.Clock = clock.NewClock()

// CancelFunc cancels a context with err, which Err will then return.
// It blocks until the context is canceled. err must not be nil.
type CancelFunc func(err error)

type contextImpl struct {
	parent      context.Context
	hasDeadline bool
	deadline    time.Time

	done chan struct{}
	// req has capacity 1 so the first cancellation never blocks.
	req      chan error
	errValue atomic.Value
}

func newContext(parent context.Context, deadlineErr error, reqDeadline time.Time) (context.Context, CancelFunc) {
	newDeadline := false
	deadline, hasDeadline := parent.Deadline()
	if deadlineErr != nil && (!hasDeadline || reqDeadline.Before(deadline)) {
		deadline = reqDeadline
		hasDeadline = true
		newDeadline = true
	}

	ctx := &contextImpl{
		parent:      parent,
		hasDeadline: hasDeadline,
		deadline:    deadline,
		done:        make(chan struct{}),
		req:         make(chan error, 1),
	}

	immediate := parent.Err()
	if immediate == nil && newDeadline && !deadline.After(clk.Now()) {
		immediate = deadlineErr
	}
	if immediate != nil {
		ctx.errValue.Store(immediate)
		close(ctx.done)
		return ctx, ctx.cancel
	}

	go func() {
		var dl <-chan time.Time
		if newDeadline {
			tm := clk.NewTimer(deadline.Sub(clk.Now()))
			defer tm.Stop()
			dl = tm.C()
		}

		var err error
		select {
		case <-parent.Done():
			err = parent.Err()
		case <-dl:
			err = deadlineErr
		case err = <-ctx.req:
		}
		ctx.errValue.Store(err)
		close(ctx.done)
	}()

	return ctx, ctx.cancel
}

func (c *contextImpl) Deadline() (deadline time.Time, ok bool) {
	return c.deadline, c.hasDeadline
}

func (c *contextImpl) Done() <-chan struct{} {
	return c.done
}

func (c *contextImpl) Err() error {
	if val := c.errValue.Load(); val != nil {
		return val.(error)
	}
	return nil
}

func (c *contextImpl) Value(key interface{}) interface{} {
	return c.parent.Value(key)
}

func (c *contextImpl) cancel(err error) {
	if err == nil {
		panic("xcontext: cancel called with nil")
	}
	select {
	case c.req <- err:
	default:
	}
	<-c.done
}

// WithCancel returns a context that can be canceled with a custom error.
func WithCancel(parent context.Context) (context.Context, CancelFunc) {
	return newContext(parent, nil, time.Time{})
}

// WithDeadline returns a context whose Err returns err once t passes.
// If parent has an earlier deadline, the parent's deadline and error win.
func WithDeadline(parent context.Context, t time.Time, err error) (context.Context, CancelFunc) {
	if err == nil {
		panic("xcontext: WithDeadline called with nil err")
	}
	return newContext(parent, err, t)
}

// WithTimeout is WithDeadline(parent, now+d, err).
func WithTimeout(parent context.Context, d time.Duration, err error) (context.Context, CancelFunc) {
	if err == nil {
		panic("xcontext: WithTimeout called with nil err")
	}
	return WithDeadline(parent, clk.Now().Add(d), err)
}
