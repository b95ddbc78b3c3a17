// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package resolve

import (
	"context"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/maven"
)

// LockFileName is the name of the lock file next to the project config.
const LockFileName = "vampire.lock"

const lockVersion = 1

// Lock pins a resolution so later runs reuse it without walking POMs.
type Lock struct {
	Version      int              `yaml:"version"`
	GeneratedAt  time.Time        `yaml:"generated_at"`
	Repositories []string         `yaml:"repositories"`
	Roots        []string         `yaml:"roots"`
	Artifacts    []LockedArtifact `yaml:"artifacts"`
}

// LockedArtifact is a single pinned dependency.
type LockedArtifact struct {
	Requested  string `yaml:"requested"`
	Resolved   string `yaml:"resolved"`
	Kind       string `yaml:"kind"`
	SHA256     string `yaml:"sha256"`
	Source     string `yaml:"source,omitempty"`
	Transitive bool   `yaml:"transitive"`
	Depth      int    `yaml:"depth"`
	Parent     string `yaml:"parent,omitempty"`
}

// NewLock builds a lock recording res.
func NewLock(res *Result, repos []string, now time.Time) *Lock {
	l := &Lock{
		Version:      lockVersion,
		GeneratedAt:  now.UTC(),
		Repositories: repos,
	}
	for _, r := range res.Roots {
		l.Roots = append(l.Roots, r.String())
	}
	for _, d := range res.Dependencies {
		a := LockedArtifact{
			Requested:  d.Requested.String(),
			Resolved:   d.Coordinate.String(),
			Kind:       string(d.Entry.Kind),
			SHA256:     d.Entry.SHA256,
			Source:     d.Entry.Source,
			Transitive: d.Depth > 0,
			Depth:      d.Depth,
		}
		if d.Parent != nil {
			a.Parent = d.Parent.String()
		}
		l.Artifacts = append(l.Artifacts, a)
	}
	return l
}

// Matches reports whether l was generated for exactly roots, in order.
func (l *Lock) Matches(roots []maven.Coordinate) bool {
	if l.Version != lockVersion || len(l.Roots) != len(roots) {
		return false
	}
	for i, r := range roots {
		if l.Roots[i] != r.String() {
			return false
		}
	}
	return true
}

// ReadLock reads a lock file. It returns nil without error if path does
// not exist.
func ReadLock(path string) (*Lock, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var l Lock
	if err := yaml.UnmarshalStrict(b, &l); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return &l, nil
}

// WriteLock writes l to path.
func WriteLock(path string, l *Lock) error {
	b, err := yaml.Marshal(l)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ResolveLocked materializes the artifacts pinned in l, verifying that
// every downloaded file still has its recorded hash.
func (r *Resolver) ResolveLocked(ctx context.Context, l *Lock) (*Result, error) {
	res := &Result{}
	for _, s := range l.Roots {
		c, err := maven.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "corrupt lock file")
		}
		res.Roots = append(res.Roots, c)
	}

	deps := make([]*Dependency, len(l.Artifacts))
	errs := make([]error, len(l.Artifacts))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, a := range l.Artifacts {
		i, a := i, a
		g.Go(func() error {
			deps[i], errs[i] = r.fetchLocked(ctx, a)
			return nil
		})
	}
	g.Wait()

	var failures []error
	for i, err := range errs {
		if err != nil {
			failures = append(failures, err)
			continue
		}
		res.Dependencies = append(res.Dependencies, deps[i])
	}
	if len(failures) > 0 {
		return nil, &ResolutionError{Failures: failures}
	}
	return res, nil
}

func (r *Resolver) fetchLocked(ctx context.Context, a LockedArtifact) (*Dependency, error) {
	resolved, err := maven.Parse(a.Resolved)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt lock file")
	}
	requested, err := maven.Parse(a.Requested)
	if err != nil {
		return nil, errors.Wrap(err, "corrupt lock file")
	}
	entry, err := r.cfg.Fetcher.Fetch(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if a.SHA256 != "" && entry.SHA256 != a.SHA256 {
		return nil, errors.Errorf("%v: hash mismatch with lock file: got %s, want %s", resolved, entry.SHA256, a.SHA256)
	}
	d := &Dependency{Coordinate: resolved, Requested: requested, Entry: entry, Depth: a.Depth}
	if a.Parent != "" {
		p, err := maven.Parse(a.Parent)
		if err != nil {
			return nil, errors.Wrap(err, "corrupt lock file")
		}
		d.Parent = &p
	}
	return d, nil
}
