// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package stack captures and formats the call stack recorded by errors.
// Use the errors package instead of calling this package directly.
package stack

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	maxDepth = 8 // maximum number of frames kept per error

	ellipsis = "\t..." // marker appended when frames were dropped
)

// Stack is a snapshot of program counters taken when an error was created.
type Stack []uintptr

// New captures the current stack. skip is the number of frames to omit;
// skip=0 makes the caller of New the innermost frame.
func New(skip int) Stack {
	pc := make([]uintptr, maxDepth+1)
	pc = pc[:runtime.Callers(skip+2, pc)]
	return Stack(pc)
}

// Frame is a single resolved stack entry.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Frames resolves s into at most maxDepth frames. truncated reports whether
// the original stack was deeper.
func (s Stack) Frames() (frames []Frame, truncated bool) {
	cf := runtime.CallersFrames(s)
	for {
		f, more := cf.Next()
		frames = append(frames, Frame{f.Function, f.File, f.Line})
		if !more {
			return frames, false
		}
		if len(frames) >= maxDepth {
			return frames, true
		}
	}
}

// String renders s one frame per line, innermost first.
func (s Stack) String() string {
	frames, truncated := s.Frames()
	lines := make([]string, 0, len(frames)+1)
	for _, f := range frames {
		lines = append(lines, fmt.Sprintf("\tat %s (%s:%d)", f.Function, filepath.Base(f.File), f.Line))
	}
	if truncated {
		lines = append(lines, ellipsis)
	}
	return strings.Join(lines, "\n")
}
