// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timing records how long each stage of a run takes.
//
// A Log is attached to a context with NewContext. Code that performs a
// stage calls Start and defers End on the returned Stage; nested calls form
// a tree which is written to timing.json when a command finishes.
package timing

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
)

// Log is a tree of timed stages.
type Log struct {
	Root *Stage

	clk clock.Clock
}

// NewLog returns an empty Log using the real clock.
func NewLog() *Log {
	return NewLogWithClock(clock.NewClock())
}

// NewLogWithClock returns an empty Log reading time from clk.
func NewLogWithClock(clk clock.Clock) *Log {
	return &Log{Root: &Stage{clk: clk}, clk: clk}
}

// StartTop starts a new top-level stage.
func (l *Log) StartTop(name string) *Stage {
	return l.Root.StartChild(name)
}

// Empty reports whether no stage was ever started.
func (l *Log) Empty() bool {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()
	return len(l.Root.Children) == 0
}

// Durations returns the elapsed time of each top-level stage in start order.
// Stages still running are measured up to now.
func (l *Log) Durations() []StageDuration {
	l.Root.mu.Lock()
	children := append([]*Stage(nil), l.Root.Children...)
	l.Root.mu.Unlock()

	var ds []StageDuration
	for _, c := range children {
		ds = append(ds, StageDuration{Name: c.Name, Duration: c.elapsed()})
	}
	return ds
}

// StageDuration is a stage name with its elapsed time.
type StageDuration struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration"`
}

// WritePretty writes the log as compact, human-readable JSON:
//
//	[[4.000, "resolve", [
//	         [1.000, "fetch"]]],
//	 [2.000, "install"]]
func (l *Log) WritePretty(w io.Writer) error {
	l.Root.mu.Lock()
	defer l.Root.mu.Unlock()

	bw := bufio.NewWriter(w)
	io.WriteString(bw, "[")
	for i, s := range l.Root.Children {
		var indent string
		if i > 0 {
			indent = " "
		}
		if err := s.writePretty(bw, indent, " ", i == len(l.Root.Children)-1); err != nil {
			return err
		}
	}
	io.WriteString(bw, "]\n")
	return bw.Flush()
}

type jsonLog struct {
	Stages []*Stage `json:"stages"`
}

// MarshalJSON implements json.Marshaler.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(&jsonLog{Stages: l.Root.Children})
}

// Stage is a single timed step, possibly with nested steps.
type Stage struct {
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Children  []*Stage  `json:"children"`

	clk clock.Clock
	mu  sync.Mutex // protects EndTime and Children
}

// StartChild starts a nested stage. It returns nil if s already ended.
func (s *Stage) StartChild(name string) *Stage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.EndTime.IsZero() {
		return nil
	}
	c := &Stage{Name: name, StartTime: s.clk.Now(), clk: s.clk}
	s.Children = append(s.Children, c)
	return c
}

// End marks s and any still-open children as finished. It is safe to call
// on a nil Stage and more than once.
func (s *Stage) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.EndTime.IsZero() {
		return
	}
	for _, c := range s.Children {
		c.End()
	}
	s.EndTime = s.clk.Now()
}

func (s *Stage) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.EndTime.IsZero() {
		return s.clk.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

func (s *Stage) writePretty(w *bufio.Writer, initialIndent, followIndent string, last bool) error {
	mn, err := json.Marshal(&s.Name)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s[%0.3f, %s", initialIndent, s.elapsed().Seconds(), mn)

	s.mu.Lock()
	children := append([]*Stage(nil), s.Children...)
	s.mu.Unlock()

	if len(children) > 0 {
		io.WriteString(w, ", [\n")
		ci := followIndent + strings.Repeat(" ", 8)
		for i, c := range children {
			if err := c.writePretty(w, ci, ci, i == len(children)-1); err != nil {
				return err
			}
		}
		io.WriteString(w, "]")
	}
	io.WriteString(w, "]")
	if !last {
		io.WriteString(w, ",\n")
	}
	return nil
}

type key int

const (
	logKey key = iota
	currentStageKey
)

// NewContext attaches l to ctx.
func NewContext(ctx context.Context, l *Log) context.Context {
	ctx = context.WithValue(ctx, logKey, l)
	return context.WithValue(ctx, currentStageKey, l.Root)
}

// FromContext returns the Log and current Stage attached to ctx.
func FromContext(ctx context.Context) (*Log, *Stage, bool) {
	l, ok := ctx.Value(logKey).(*Log)
	if !ok {
		return nil, nil, false
	}
	s, ok := ctx.Value(currentStageKey).(*Stage)
	if !ok {
		return nil, nil, false
	}
	return l, s, true
}

// Start starts a child of the current stage in ctx and returns a context
// in which it is current. Without a Log in ctx it returns ctx and nil.
func Start(ctx context.Context, name string) (context.Context, *Stage) {
	_, s, ok := FromContext(ctx)
	if !ok {
		return ctx, nil
	}
	c := s.StartChild(name)
	if c == nil {
		return ctx, nil
	}
	return context.WithValue(ctx, currentStageKey, c), c
}
