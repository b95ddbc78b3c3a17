// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging routes log messages through a Logger attached to a
// context.Context.
//
// The CLI attaches a console logger and a full log file; library packages
// only call Info/Debug with the context they were given and never care where
// the messages end up.
package logging

import (
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	// LevelDebug is for details useful only when diagnosing a run.
	LevelDebug Level = iota
	// LevelInfo is for progress messages shown by default.
	LevelInfo
	// LevelError is for messages reporting failures.
	LevelError
)

// String returns the single-letter tag used for the level in device logs.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "D"
	case LevelInfo:
		return "I"
	case LevelError:
		return "E"
	default:
		return "?"
	}
}

// Logger receives log entries.
type Logger interface {
	Log(level Level, ts time.Time, msg string)
}

// MultiLogger fans out every entry to a set of loggers.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger writing to loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log forwards the entry to every registered logger.
func (ml *MultiLogger) Log(level Level, ts time.Time, msg string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for _, logger := range ml.loggers {
		logger.Log(level, ts, msg)
	}
}

// AddLogger registers another logger.
func (ml *MultiLogger) AddLogger(logger Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.loggers = append(ml.loggers, logger)
}

// RemoveLogger unregisters logger. It is a no-op if logger is unknown.
func (ml *MultiLogger) RemoveLogger(logger Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	kept := ml.loggers[:0]
	for _, l := range ml.loggers {
		if l != logger {
			kept = append(kept, l)
		}
	}
	ml.loggers = kept
}

// FuncLogger calls a function for every entry, serialized.
type FuncLogger struct {
	f  func(level Level, ts time.Time, msg string)
	mu sync.Mutex
}

// NewFuncLogger creates a FuncLogger calling f.
func NewFuncLogger(f func(level Level, ts time.Time, msg string)) *FuncLogger {
	return &FuncLogger{f: f}
}

// Log calls the wrapped function.
func (l *FuncLogger) Log(level Level, ts time.Time, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.f(level, ts, msg)
}
