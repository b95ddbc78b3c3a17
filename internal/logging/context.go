// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type loggerKey struct{}

type prefixKey struct{}

// AttachLogger returns a context that logs to logger in addition to any
// logger already attached to ctx.
func AttachLogger(ctx context.Context, logger Logger) context.Context {
	if parent, ok := loggerFromContext(ctx); ok {
		logger = NewMultiLogger(logger, parent)
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// AttachLoggerNoPropagation returns a context that logs only to logger.
func AttachLoggerNoPropagation(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// HasLogger reports whether a logger is attached to ctx.
func HasLogger(ctx context.Context) bool {
	_, ok := loggerFromContext(ctx)
	return ok
}

// SetLogPrefix returns a context whose messages are prefixed with prefix.
func SetLogPrefix(ctx context.Context, prefix string) context.Context {
	return context.WithValue(ctx, prefixKey{}, prefix)
}

func loggerFromContext(ctx context.Context) (Logger, bool) {
	logger, ok := ctx.Value(loggerKey{}).(Logger)
	return logger, ok
}

// Info emits a log at LevelInfo.
func Info(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelInfo, fmt.Sprint(args...))
}

// Infof emits a formatted log at LevelInfo.
func Infof(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelInfo, fmt.Sprintf(format, args...))
}

// Debug emits a log at LevelDebug.
func Debug(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelDebug, fmt.Sprint(args...))
}

// Debugf emits a formatted log at LevelDebug.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelDebug, fmt.Sprintf(format, args...))
}

// Error emits a log at LevelError.
func Error(ctx context.Context, args ...interface{}) {
	emit(ctx, LevelError, fmt.Sprint(args...))
}

// Errorf emits a formatted log at LevelError.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	emit(ctx, LevelError, fmt.Sprintf(format, args...))
}

// Log emits msg at level.
func Log(ctx context.Context, level Level, msg string) {
	emit(ctx, level, msg)
}

func emit(ctx context.Context, level Level, msg string) {
	ts := time.Now() // get the time as early as possible
	logger, ok := loggerFromContext(ctx)
	if !ok {
		return
	}
	prefix, _ := ctx.Value(prefixKey{}).(string)
	logger.Log(level, ts, strings.ToValidUTF8(prefix+msg, ""))
}
