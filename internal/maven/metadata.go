// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package maven

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"go.vampire.dev/vampire/errors"
)

type metadataXML struct {
	XMLName  xml.Name `xml:"metadata"`
	Versions []string `xml:"versioning>versions>version"`
}

// ParseMetadataVersions returns the versions listed in a maven-metadata.xml.
func ParseMetadataVersions(b []byte) ([]string, error) {
	var m metadataXML
	if err := xml.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, errors.Wrap(err, "failed to parse maven-metadata.xml")
	}
	var vs []string
	for _, v := range m.Versions {
		if v = strings.TrimSpace(v); v != "" {
			vs = append(vs, v)
		}
	}
	return vs, nil
}

// Version is a strict major.minor.patch version.
type Version struct {
	Major, Minor, Patch int
}

// ParseVersion parses "X.Y.Z". Qualified versions like "1.0.0-alpha01"
// are rejected.
func ParseVersion(s string) (Version, bool) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, false
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return Version{}, false
		}
		n[i] = v
	}
	return Version{n[0], n[1], n[2]}, true
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// CompatibleWith reports whether v can replace requested: same major
// version and not older.
func (v Version) CompatibleWith(requested Version) bool {
	return v.Major == requested.Major && !v.Less(requested)
}

// LatestCompatible returns the highest version in available that is
// compatible with requested. If requested is not a strict version or no
// better candidate exists, requested is returned unchanged.
func LatestCompatible(requested string, available []string) string {
	req, ok := ParseVersion(requested)
	if !ok {
		return requested
	}
	best, bestStr := req, requested
	for _, s := range available {
		v, ok := ParseVersion(s)
		if ok && v.CompatibleWith(req) && best.Less(v) {
			best, bestStr = v, s
		}
	}
	return bestStr
}
