// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package run

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.vampire.dev/vampire/internal/protocol"
)

// Report is the outcome of a test run. It is saved as results.json.
type Report struct {
	// RunID uniquely identifies the run.
	RunID  string    `json:"runId"`
	Device string    `json:"device,omitempty"`
	Filter string    `json:"filter,omitempty"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Total  int       `json:"total"`
	Passed int       `json:"passed"`
	Failed int       `json:"failed"`
	// Results are in manifest order.
	Results []protocol.TestResult `json:"results"`
	// Complete is false if the run could not finish. Results are then
	// empty.
	Complete bool `json:"complete"`
	// ErrorKind and Error describe why the run did not finish.
	ErrorKind Kind   `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

func newReport(start time.Time, filter string) *Report {
	return &Report{
		RunID:   uuid.New().String(),
		Filter:  filter,
		Start:   start,
		Results: []protocol.TestResult{},
	}
}

func (r *Report) add(p *protocol.Payload) {
	r.Total = p.Total
	r.Passed = p.Passed
	r.Failed = p.Failed
	r.Results = p.TestResults()
}

func (r *Report) finish(end time.Time, err error) {
	r.End = end
	if err == nil {
		r.Complete = true
		return
	}
	r.ErrorKind = KindOf(err)
	r.Error = err.Error()
}

// OK reports whether the run finished with no failed tests.
func (r *Report) OK() bool {
	return r.Complete && r.Failed == 0
}

// WriteFile saves r as JSON at path.
func (r *Report) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

const (
	colorReset = "\x1b[0m"
	colorRed   = "\x1b[31m"
	colorGreen = "\x1b[32m"
)

// WriteSummary writes a human-readable summary of r to w. With color set,
// outcomes are highlighted with ANSI escapes.
func (r *Report) WriteSummary(w io.Writer, color bool) error {
	paint := func(s, c string) string {
		if !color {
			return s
		}
		return c + s + colorReset
	}

	ml := 0
	for _, res := range r.Results {
		if len(res.Name) > ml {
			ml = len(res.Name)
		}
	}

	var b strings.Builder
	sep := strings.Repeat("-", 80)
	fmt.Fprintln(&b, sep)
	fmt.Fprintf(&b, "Tests: %d total, %d passed, %d failed\n", r.Total, r.Passed, r.Failed)
	for _, res := range r.Results {
		pn := fmt.Sprintf("%-"+strconv.Itoa(ml)+"s", res.Name)
		if res.Passed {
			fmt.Fprintf(&b, "%s  [ %s ]\n", pn, paint("PASS", colorGreen))
		} else {
			fmt.Fprintf(&b, "%s  [ %s ]\n", pn, paint("FAIL", colorRed))
		}
	}
	if !r.Complete {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Run did not finish successfully; results are incomplete")
		switch {
		case r.ErrorKind != "":
			fmt.Fprintf(&b, "%s: %s\n", paint(string(r.ErrorKind), colorRed), r.Error)
		case r.Error != "":
			fmt.Fprintln(&b, r.Error)
		}
	}
	fmt.Fprintln(&b, sep)
	_, err := io.WriteString(w, b.String())
	return err
}
