// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package maven models Maven coordinates, POM descriptors and repository
// metadata.
//
// Only the subset of Maven needed to collect the runtime classpath of
// Android libraries is supported: a flat (group, artifact, version) model,
// compile and runtime scopes, and project property placeholders.
package maven

import (
	"fmt"
	"path"
	"strings"

	"go.vampire.dev/vampire/errors"
)

// Coordinate identifies an artifact in a Maven repository.
type Coordinate struct {
	Group    string `yaml:"group" json:"group"`
	Artifact string `yaml:"artifact" json:"artifact"`
	Version  string `yaml:"version" json:"version"`
}

// Parse parses "group:artifact:version". A Maven version range in the
// version part is normalized with NormalizeVersion.
func Parse(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Coordinate{}, errors.Errorf("invalid coordinate %q: want group:artifact:version", s)
	}
	return New(parts[0], parts[1], parts[2])
}

// New returns a validated coordinate.
func New(group, artifact, version string) (Coordinate, error) {
	c := Coordinate{
		Group:    strings.TrimSpace(group),
		Artifact: strings.TrimSpace(artifact),
		Version:  NormalizeVersion(version),
	}
	if c.Group == "" || c.Artifact == "" || c.Version == "" {
		return Coordinate{}, errors.Errorf("invalid coordinate %q: empty component", c.String())
	}
	for _, p := range []string{c.Group, c.Artifact, c.Version} {
		if strings.ContainsAny(p, "/\\") || p == "." || p == ".." {
			return Coordinate{}, errors.Errorf("invalid coordinate %q: illegal path character", c.String())
		}
	}
	return c, nil
}

// Key identifies the dependency regardless of version.
func (c Coordinate) Key() string {
	return c.Group + ":" + c.Artifact
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s:%s:%s", c.Group, c.Artifact, c.Version)
}

// WithVersion returns a copy of c at version v.
func (c Coordinate) WithVersion(v string) Coordinate {
	c.Version = v
	return c
}

// RepoPath returns the path of the artifact file with extension ext relative
// to a repository root, e.g. "androidx/core/core/1.9.0/core-1.9.0.aar".
func (c Coordinate) RepoPath(ext string) string {
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Artifact, c.Version, c.FileName(ext))
}

// MetadataPath returns the path of maven-metadata.xml for c's group and
// artifact relative to a repository root.
func (c Coordinate) MetadataPath() string {
	return path.Join(strings.ReplaceAll(c.Group, ".", "/"), c.Artifact, "maven-metadata.xml")
}

// FileName returns "artifact-version.ext".
func (c Coordinate) FileName(ext string) string {
	return fmt.Sprintf("%s-%s.%s", c.Artifact, c.Version, ext)
}

// NormalizeVersion reduces a Maven version requirement to a concrete
// version. Ranges such as "[1.0]" or "[1.0,2.0)" resolve to their lower
// bound. A range without a lower bound ("(,2.0]") resolves to its upper
// bound.
func NormalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "[") && !strings.HasPrefix(v, "(") {
		return v
	}
	inner := strings.TrimRight(strings.TrimLeft(v, "[("), "])")
	lower, upper, _ := strings.Cut(inner, ",")
	if lower = strings.TrimSpace(lower); lower != "" {
		return lower
	}
	return strings.TrimSpace(upper)
}
