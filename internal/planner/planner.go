// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package planner decides which build stages must run.
//
// The pipeline has three stages with a strict order: compiling the test
// library, packaging the host application, and installing it on a device.
// A stage is skipped only when its fingerprint equals the one recorded after
// its last success and its output is confirmed present. Running a stage
// always runs every later stage too.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
)

// Stage is a step of the build pipeline.
type Stage int

const (
	// Compile builds the native test library.
	Compile Stage = iota
	// Package assembles the host application.
	Package
	// Install puts the host application on the device.
	Install
)

// Stages lists all stages in pipeline order.
var Stages = []Stage{Compile, Package, Install}

func (s Stage) String() string {
	switch s {
	case Compile:
		return "compile"
	case Package:
		return "package"
	case Install:
		return "install"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Probe confirms that the output of a stage exists.
type Probe interface {
	// Present reports whether the output of s built with fingerprint fp is
	// available: a file on disk, or an installation on the device.
	Present(ctx context.Context, s Stage, fp string) (bool, error)
}

// Plan is the set of stages to run.
type Plan struct {
	Run map[Stage]bool
	// Reasons explains why each stage runs.
	Reasons map[Stage]string
}

// Runs reports whether s must run.
func (p *Plan) Runs(s Stage) bool {
	return p.Run[s]
}

func (p *Plan) String() string {
	var parts []string
	for _, s := range Stages {
		if r, ok := p.Reasons[s]; ok {
			parts = append(parts, fmt.Sprintf("%v: %s", s, r))
		} else if _, planned := p.Run[s]; planned {
			parts = append(parts, fmt.Sprintf("%v: up to date", s))
		}
	}
	return strings.Join(parts, ", ")
}

// Planner compares fingerprints against those recorded after previous
// successful stages.
type Planner struct {
	path string
	rec  record
}

// record is the on-disk form of the recorded fingerprints. Installations
// are tracked per device serial.
type record struct {
	Compile string            `json:"compile,omitempty"`
	Package string            `json:"package,omitempty"`
	Install map[string]string `json:"install,omitempty"`
}

// FileName is the name of the fingerprint store in the output directory.
const FileName = "fingerprints.json"

// Open loads the fingerprints recorded at path. A missing file means
// nothing was built yet.
func Open(path string) (*Planner, error) {
	p := &Planner{path: path}
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &p.rec); err != nil {
		// Treat a corrupt store as empty.
		p.rec = record{}
	}
	return p, nil
}

// Recorded returns the fingerprint recorded for s. target selects the
// device for Install and is ignored otherwise.
func (p *Planner) Recorded(s Stage, target string) string {
	switch s {
	case Compile:
		return p.rec.Compile
	case Package:
		return p.rec.Package
	default:
		return p.rec.Install[target]
	}
}

// Record stores fp as the fingerprint of the last successful run of s and
// persists the store. Fingerprints recorded for later stages are dropped,
// as their outputs were built from the previous output of s.
func (p *Planner) Record(s Stage, target, fp string) error {
	switch s {
	case Compile:
		p.rec.Compile = fp
		p.rec.Package = ""
		p.rec.Install = nil
	case Package:
		p.rec.Package = fp
		p.rec.Install = nil
	default:
		if p.rec.Install == nil {
			p.rec.Install = make(map[string]string)
		}
		p.rec.Install[target] = fp
	}
	return p.save()
}

func (p *Planner) save() error {
	b, err := json.MarshalIndent(&p.rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return err
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

// Plan decides which of stages must run. stages must be a prefix of
// Stages in order; commands that stop before installing omit Install.
// With force set every stage runs.
func (p *Planner) Plan(ctx context.Context, fps Fingerprints, target string, stages []Stage, probe Probe, force bool) (*Plan, error) {
	plan := &Plan{Run: make(map[Stage]bool), Reasons: make(map[Stage]string)}
	if err := p.plan(ctx, plan, false, fps, target, stages, probe, force); err != nil {
		return nil, err
	}
	return plan, nil
}

// Continue plans stages that follow the ones already in prev and adds them
// to prev. If any stage of prev runs, every stage planned here runs too.
func (p *Planner) Continue(ctx context.Context, prev *Plan, fps Fingerprints, target string, stages []Stage, probe Probe, force bool) (*Plan, error) {
	stale := false
	for _, run := range prev.Run {
		stale = stale || run
	}
	if err := p.plan(ctx, prev, stale, fps, target, stages, probe, force); err != nil {
		return nil, err
	}
	return prev, nil
}

func (p *Planner) plan(ctx context.Context, plan *Plan, stale bool, fps Fingerprints, target string, stages []Stage, probe Probe, force bool) error {
	for _, s := range stages {
		plan.Run[s] = false
		fp := fps.Of(s)
		var reason string
		switch {
		case force:
			reason = "forced"
		case stale:
			reason = "upstream stage changed"
		case p.Recorded(s, target) != fp:
			reason = "inputs changed"
		default:
			ok, err := probe.Present(ctx, s, fp)
			if err != nil {
				return errors.Wrapf(err, "failed to check %v output", s)
			}
			if !ok {
				reason = "output missing"
			}
		}
		if reason == "" {
			continue
		}
		stale = true
		plan.Run[s] = true
		plan.Reasons[s] = reason
	}
	logging.Debugf(ctx, "Build plan: %v", plan)
	return nil
}
