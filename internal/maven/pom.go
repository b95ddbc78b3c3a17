// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package maven

import (
	"bytes"
	"encoding/xml"
	"strings"

	"go.vampire.dev/vampire/errors"
)

// Scopes that contribute to the runtime classpath. A missing scope means
// compile.
var runtimeScopes = map[string]bool{
	"":        true,
	"compile": true,
	"runtime": true,
}

// Dependency is a <dependency> entry of a POM.
type Dependency struct {
	Coordinate
	Scope    string
	Optional bool
}

// Descriptor is the part of a POM relevant to dependency resolution.
type Descriptor struct {
	Owner        Coordinate
	Packaging    string
	Dependencies []Dependency
}

type pomXML struct {
	XMLName    xml.Name `xml:"project"`
	GroupID    string   `xml:"groupId"`
	ArtifactID string   `xml:"artifactId"`
	Version    string   `xml:"version"`
	Packaging  string   `xml:"packaging"`
	Parent     struct {
		GroupID string `xml:"groupId"`
		Version string `xml:"version"`
	} `xml:"parent"`
	Properties struct {
		Entries []struct {
			XMLName xml.Name
			Value   string `xml:",chardata"`
		} `xml:",any"`
	} `xml:"properties"`
	Dependencies []struct {
		GroupID    string `xml:"groupId"`
		ArtifactID string `xml:"artifactId"`
		Version    string `xml:"version"`
		Scope      string `xml:"scope"`
		Optional   string `xml:"optional"`
	} `xml:"dependencies>dependency"`
}

// ParseDescriptor parses the POM of owner.
//
// Placeholders of the form ${project.groupId}, ${project.version},
// ${project.artifactId} (also spelled pom.* or project/*) resolve to owner;
// other ${name} placeholders resolve from the POM's <properties>.
// Dependencies whose version is missing after substitution are dropped, as
// dependency management imports are not supported.
func ParseDescriptor(b []byte, owner Coordinate) (*Descriptor, error) {
	var p pomXML
	dec := xml.NewDecoder(bytes.NewReader(b))
	dec.Strict = false
	if err := dec.Decode(&p); err != nil {
		return nil, errors.Wrapf(err, "failed to parse POM of %v", owner)
	}

	props := map[string]string{}
	for _, e := range p.Properties.Entries {
		props[e.XMLName.Local] = strings.TrimSpace(e.Value)
	}
	for _, pre := range []string{"project.", "pom.", "project/"} {
		props[pre+"groupId"] = owner.Group
		props[pre+"artifactId"] = owner.Artifact
		props[pre+"version"] = owner.Version
	}
	if v := strings.TrimSpace(p.Parent.Version); v != "" {
		props["project.parent.version"] = v
	}
	if g := strings.TrimSpace(p.Parent.GroupID); g != "" {
		props["project.parent.groupId"] = g
	}

	d := &Descriptor{Owner: owner, Packaging: strings.TrimSpace(p.Packaging)}
	for _, pd := range p.Dependencies {
		group := expand(pd.GroupID, props)
		artifact := expand(pd.ArtifactID, props)
		version := expand(pd.Version, props)
		if version == "" || strings.Contains(version, "${") {
			continue
		}
		c, err := New(group, artifact, version)
		if err != nil {
			return nil, errors.Wrapf(err, "bad dependency in POM of %v", owner)
		}
		d.Dependencies = append(d.Dependencies, Dependency{
			Coordinate: c,
			Scope:      strings.TrimSpace(pd.Scope),
			Optional:   strings.TrimSpace(pd.Optional) == "true",
		})
	}
	return d, nil
}

// Runtime returns the dependencies on the runtime classpath in declaration
// order: compile or runtime scope and not optional.
func (d *Descriptor) Runtime() []Coordinate {
	var cs []Coordinate
	for _, dep := range d.Dependencies {
		if !runtimeScopes[dep.Scope] || dep.Optional {
			continue
		}
		cs = append(cs, dep.Coordinate)
	}
	return cs
}

// expand substitutes ${name} placeholders found in props. Unknown
// placeholders are left untouched.
func expand(s string, props map[string]string) string {
	s = strings.TrimSpace(s)
	var sb strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.Index(s[i:], "}")
		if j < 0 {
			break
		}
		name := s[i+2 : i+j]
		sb.WriteString(s[:i])
		if v, ok := props[name]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
	sb.WriteString(s)
	return sb.String()
}
