// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package resolve

import (
	"bufio"
	"fmt"
	"io"
)

type treeLine struct {
	label string
	dep   *Dependency // nil for omitted entries
}

// WriteTree renders the dependency graph, one root per top-level entry:
//
//	com.example:app:1.0.0
//	├── androidx.core:core:1.9.0
//	│   └── androidx.annotation:annotation:1.3.0
//	└── com.example:libx:2.0.0 (omitted for conflict with 1.0.0)
func (r *Result) WriteTree(w io.Writer) error {
	children := make(map[string][]treeLine)
	for _, d := range r.Dependencies {
		if d.Parent == nil {
			continue
		}
		p := d.Parent.String()
		children[p] = append(children[p], treeLine{label: d.Coordinate.String(), dep: d})
	}
	for _, o := range r.Omitted {
		p := o.Parent.String()
		children[p] = append(children[p], treeLine{
			label: fmt.Sprintf("%v (omitted for conflict with %s)", o.Requested, o.Winner.Version),
		})
	}

	bw := bufio.NewWriter(w)
	for _, d := range r.Dependencies {
		if d.Parent != nil {
			continue
		}
		label := d.Coordinate.String()
		if d.Requested != d.Coordinate {
			label += fmt.Sprintf(" (requested %s)", d.Requested.Version)
		}
		fmt.Fprintln(bw, label)
		writeChildren(bw, children, d.Coordinate.String(), "")
	}
	return bw.Flush()
}

func writeChildren(w io.Writer, children map[string][]treeLine, parent, prefix string) {
	lines := children[parent]
	for i, l := range lines {
		branch, indent := "├── ", "│   "
		if i == len(lines)-1 {
			branch, indent = "└── ", "    "
		}
		label := l.label
		if l.dep != nil && l.dep.Requested != l.dep.Coordinate {
			label += fmt.Sprintf(" (upgraded from %s)", l.dep.Requested.Version)
		}
		fmt.Fprintf(w, "%s%s%s\n", prefix, branch, label)
		if l.dep != nil {
			writeChildren(w, children, l.dep.Coordinate.String(), prefix+indent)
		}
	}
}
