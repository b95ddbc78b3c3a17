// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package resolve computes the transitive closure of declared Maven
// dependencies.
//
// Resolution walks the dependency graph breadth-first from the declared
// roots. When the same group:artifact appears more than once, the occurrence
// nearest to the roots wins; ties at equal depth go to the one visited first,
// which follows declaration order. The result therefore depends only on the
// graph, never on the order in which downloads complete.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/cache"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/maven"
	"go.vampire.dev/vampire/internal/timing"
)

// Fetcher provides artifacts and their metadata. *cache.Cache implements it.
type Fetcher interface {
	Fetch(ctx context.Context, coord maven.Coordinate) (*cache.Entry, error)
	Descriptor(ctx context.Context, coord maven.Coordinate) ([]byte, error)
	Metadata(ctx context.Context, coord maven.Coordinate) ([]byte, error)
}

var _ Fetcher = (*cache.Cache)(nil)

const defaultWorkers = 8

// Config holds parameters for a Resolver.
type Config struct {
	Fetcher Fetcher
	// Workers bounds concurrent downloads within one depth level.
	Workers int
	// UpgradeCompatible raises transitive versions to the newest release
	// with the same major version listed in the repository metadata.
	UpgradeCompatible bool
}

// Resolver resolves dependency graphs.
type Resolver struct {
	cfg Config
}

// New returns a Resolver.
func New(cfg Config) *Resolver {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return &Resolver{cfg: cfg}
}

// Dependency is a resolved artifact.
type Dependency struct {
	// Coordinate has the chosen version.
	Coordinate maven.Coordinate
	// Requested is the coordinate as declared, before any upgrade.
	Requested maven.Coordinate
	Entry     *cache.Entry
	Depth     int
	// Parent is the dependency that introduced this one; nil for roots.
	Parent *maven.Coordinate
}

// Omission records a dependency dropped in favor of a nearer one.
type Omission struct {
	Requested maven.Coordinate
	Parent    maven.Coordinate
	Winner    maven.Coordinate
}

// Result is a conflict-free set of dependencies.
type Result struct {
	// Roots are the declared coordinates in declaration order.
	Roots []maven.Coordinate
	// Dependencies holds one entry per group:artifact in resolution
	// order (breadth-first).
	Dependencies []*Dependency
	Omitted      []Omission
}

// Lookup returns the dependency resolved for key (group:artifact).
func (r *Result) Lookup(key string) (*Dependency, bool) {
	for _, d := range r.Dependencies {
		if d.Coordinate.Key() == key {
			return d, true
		}
	}
	return nil, false
}

// Coordinates returns the resolved coordinates in resolution order.
func (r *Result) Coordinates() []maven.Coordinate {
	cs := make([]maven.Coordinate, len(r.Dependencies))
	for i, d := range r.Dependencies {
		cs[i] = d.Coordinate
	}
	return cs
}

// ResolutionError lists every artifact that could not be resolved.
type ResolutionError struct {
	Failures []error
}

func (e *ResolutionError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("failed to resolve %d artifact(s): %s", len(e.Failures), strings.Join(msgs, "; "))
}

type node struct {
	coord  maven.Coordinate
	depth  int
	parent *maven.Coordinate
}

type fetched struct {
	dep      *Dependency
	children []maven.Coordinate
	err      error
}

// Resolve resolves roots and their transitive runtime dependencies.
//
// Unreachable artifacts do not stop the walk of other branches; all of them
// are reported together in a *ResolutionError once the walk is complete.
func (r *Resolver) Resolve(ctx context.Context, roots []maven.Coordinate) (*Result, error) {
	res := &Result{Roots: append([]maven.Coordinate(nil), roots...)}
	resolved := make(map[string]*Dependency)
	visited := make(map[maven.Coordinate]bool)
	var failures []error

	level := make([]node, len(roots))
	for i, c := range roots {
		level[i] = node{coord: c}
	}

	for depth := 0; len(level) > 0; depth++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var todo []node
		claimed := make(map[string]maven.Coordinate)
		for _, n := range level {
			if visited[n.coord] {
				continue
			}
			visited[n.coord] = true
			key := n.coord.Key()
			winner, ok := claimed[key]
			requested := winner
			if d, done := resolved[key]; done {
				winner, requested, ok = d.Coordinate, d.Requested, true
			}
			if ok {
				// A request that an upgrade satisfied is not an omission.
				if n.parent != nil && winner != n.coord && requested != n.coord {
					res.Omitted = append(res.Omitted, Omission{Requested: n.coord, Parent: *n.parent, Winner: winner})
				}
				continue
			}
			claimed[key] = n.coord
			todo = append(todo, n)
		}
		if len(todo) == 0 {
			break
		}

		results := r.fetchLevel(ctx, depth, todo)

		var next []node
		for _, f := range results {
			if f.err != nil {
				failures = append(failures, f.err)
				continue
			}
			d := f.dep
			resolved[d.Coordinate.Key()] = d
			res.Dependencies = append(res.Dependencies, d)
			parent := d.Coordinate
			for _, c := range f.children {
				next = append(next, node{coord: c, depth: depth + 1, parent: &parent})
			}
		}
		level = next
	}

	if len(failures) > 0 {
		return nil, &ResolutionError{Failures: failures}
	}
	return res, nil
}

// fetchLevel downloads every node of one depth level concurrently and
// returns the results in the order of nodes.
func (r *Resolver) fetchLevel(ctx context.Context, depth int, nodes []node) []fetched {
	ctx, st := timing.Start(ctx, fmt.Sprintf("depth_%d", depth))
	defer st.End()

	results := make([]fetched, len(nodes))
	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			results[i] = r.fetchNode(ctx, n)
			return nil
		})
	}
	g.Wait()
	return results
}

func (r *Resolver) fetchNode(ctx context.Context, n node) fetched {
	coord := n.coord
	if r.cfg.UpgradeCompatible && n.depth > 0 {
		coord = r.upgrade(ctx, coord)
	}

	entry, err := r.cfg.Fetcher.Fetch(ctx, coord)
	if err != nil {
		return fetched{err: err}
	}

	var children []maven.Coordinate
	pom, err := r.cfg.Fetcher.Descriptor(ctx, coord)
	switch {
	case err == nil:
		desc, err := maven.ParseDescriptor(pom, coord)
		if err != nil {
			return fetched{err: err}
		}
		children = desc.Runtime()
	case isNotFound(err):
		// Some repositories publish artifacts without a POM; such an
		// artifact has no transitive dependencies.
		logging.Debugf(ctx, "No POM for %v; assuming no dependencies", coord)
	default:
		return fetched{err: errors.Wrapf(err, "failed to fetch POM of %v", coord)}
	}

	return fetched{
		dep: &Dependency{
			Coordinate: coord,
			Requested:  n.coord,
			Entry:      entry,
			Depth:      n.depth,
			Parent:     n.parent,
		},
		children: children,
	}
}

// upgrade returns the newest compatible version of coord, or coord itself
// if the repository metadata is unavailable.
func (r *Resolver) upgrade(ctx context.Context, coord maven.Coordinate) maven.Coordinate {
	b, err := r.cfg.Fetcher.Metadata(ctx, coord)
	if err != nil {
		return coord
	}
	vs, err := maven.ParseMetadataVersions(b)
	if err != nil {
		return coord
	}
	v := maven.LatestCompatible(coord.Version, vs)
	if v != coord.Version {
		logging.Infof(ctx, "Upgrading %s from %s to %s", coord.Key(), coord.Version, v)
	}
	return coord.WithVersion(v)
}

func isNotFound(err error) bool {
	var fe *cache.FetchError
	return errors.As(err, &fe) && fe.NotFound()
}
