// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Sink is a destination for formatted log lines.
type Sink interface {
	Log(msg string)
}

// SinkLogger is a Logger that drops entries below a level and optionally
// prefixes a UTC timestamp before handing the line to a Sink.
type SinkLogger struct {
	level     Level
	timestamp bool
	sink      Sink
}

// NewSinkLogger creates a SinkLogger.
func NewSinkLogger(level Level, timestamp bool, sink Sink) *SinkLogger {
	return &SinkLogger{level: level, timestamp: timestamp, sink: sink}
}

// Log implements Logger.
func (l *SinkLogger) Log(level Level, ts time.Time, msg string) {
	if level < l.level {
		return
	}
	if l.timestamp {
		msg = ts.UTC().Format("2006-01-02T15:04:05.000000Z ") + msg
	}
	l.sink.Log(msg)
}

// WriterSink writes each line to an io.Writer.
type WriterSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterSink creates a WriterSink.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Log implements Sink.
func (s *WriterSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, msg)
}
