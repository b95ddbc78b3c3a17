// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package extract turns cached artifacts into what they contribute to the
// host package: a classes jar, permissions and native libraries.
//
// A JAR contributes itself. An AAR is unpacked next to the cached file, in
// an "extracted" directory of its own coordinate, so native libraries of
// different artifacts never overwrite each other.
package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/cache"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/maven"
)

const (
	extractedDir = "extracted"
	indexFile    = "contribution.json"
)

// NativeLib is a shared library shipped by an AAR.
type NativeLib struct {
	ABI  string `json:"abi"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Contribution is what an artifact adds to the host package.
type Contribution struct {
	Coordinate  maven.Coordinate `json:"coordinate"`
	ClassesJar  string           `json:"classes_jar"`
	PackageName string           `json:"package_name,omitempty"`
	Permissions []string         `json:"permissions,omitempty"`
	NativeLibs  []NativeLib      `json:"native_libs,omitempty"`
}

// NativeLibsFor returns the native libraries built for abi.
func (c *Contribution) NativeLibsFor(abi string) []NativeLib {
	var libs []NativeLib
	for _, l := range c.NativeLibs {
		if l.ABI == abi {
			libs = append(libs, l)
		}
	}
	return libs
}

// Extract returns the contribution of e, unpacking it on first use.
func Extract(ctx context.Context, e *cache.Entry) (*Contribution, error) {
	if e.Kind == cache.KindJAR {
		return &Contribution{Coordinate: e.Coordinate, ClassesJar: e.Path}, nil
	}

	dir := filepath.Join(e.Dir(), extractedDir)
	if c, err := readIndex(dir); err == nil {
		return c, nil
	}

	logging.Debugf(ctx, "Extracting %s", e.Path)
	tmp, err := os.MkdirTemp(e.Dir(), ".extract-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	c, err := unpackAAR(e.Path, tmp)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extract %v", e.Coordinate)
	}
	c.Coordinate = e.Coordinate
	if err := writeIndex(tmp, c); err != nil {
		return nil, err
	}

	// Another process may have extracted it concurrently; either copy is
	// complete, so keep whichever landed first.
	os.RemoveAll(dir)
	if err := os.Rename(tmp, dir); err != nil {
		if c, rerr := readIndex(dir); rerr == nil {
			return c, nil
		}
		return nil, err
	}
	return readIndex(dir)
}

// unpackAAR extracts the interesting entries of the AAR at src into dir.
// Paths in the returned Contribution are relative to dir.
func unpackAAR(src, dir string) (*Contribution, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	c := &Contribution{}
	for _, f := range zr.File {
		name := f.Name
		if !safePath(name) {
			return nil, errors.Errorf("unsafe path %q in archive", name)
		}
		switch {
		case name == "classes.jar":
			if err := copyEntry(f, filepath.Join(dir, "classes.jar")); err != nil {
				return nil, err
			}
			c.ClassesJar = "classes.jar"
		case name == "AndroidManifest.xml":
			b, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			m, err := ParseManifest(b)
			if err != nil {
				return nil, err
			}
			c.PackageName = m.Package
			c.Permissions = m.Permissions
		case strings.HasPrefix(name, "jni/") && strings.HasSuffix(name, ".so"):
			parts := strings.Split(name, "/")
			if len(parts) != 3 {
				continue
			}
			rel := path.Join("jni", parts[1], parts[2])
			if err := copyEntry(f, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
				return nil, err
			}
			c.NativeLibs = append(c.NativeLibs, NativeLib{ABI: parts[1], Name: parts[2], Path: rel})
		}
	}

	// Resource-only AARs ship no classes.
	if c.ClassesJar == "" {
		if err := writeEmptyJar(filepath.Join(dir, "classes.jar")); err != nil {
			return nil, err
		}
		c.ClassesJar = "classes.jar"
	}
	return c, nil
}

func safePath(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	for _, p := range strings.Split(name, "/") {
		if p == ".." {
			return false
		}
	}
	return true
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func copyEntry(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeEmptyJar(dst string) error {
	var buf bytes.Buffer
	if err := zip.NewWriter(&buf).Close(); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0644)
}

func writeIndex(dir string, c *Contribution) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, indexFile), b, 0644)
}

// readIndex loads a previous extraction and makes its paths absolute.
func readIndex(dir string) (*Contribution, error) {
	b, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, err
	}
	var c Contribution
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.ClassesJar = filepath.Join(dir, filepath.FromSlash(c.ClassesJar))
	for i := range c.NativeLibs {
		c.NativeLibs[i].Path = filepath.Join(dir, filepath.FromSlash(c.NativeLibs[i].Path))
	}
	return &c, nil
}

// Manifest is the subset of an AndroidManifest.xml read from dependencies.
type Manifest struct {
	Package     string
	Permissions []string
}

type manifestXML struct {
	XMLName     xml.Name `xml:"manifest"`
	Package     string   `xml:"package,attr"`
	Permissions []struct {
		Name string `xml:"name,attr"`
	} `xml:"uses-permission"`
	PermissionsSDK23 []struct {
		Name string `xml:"name,attr"`
	} `xml:"uses-permission-sdk-23"`
}

// ParseManifest reads the package name and requested permissions from a
// text AndroidManifest.xml as shipped in AARs.
func ParseManifest(b []byte) (*Manifest, error) {
	var m manifestXML
	if err := xml.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "failed to parse AndroidManifest.xml")
	}
	out := &Manifest{Package: m.Package}
	seen := make(map[string]bool)
	add := func(name string) {
		if name = strings.TrimSpace(name); name != "" && !seen[name] {
			seen[name] = true
			out.Permissions = append(out.Permissions, name)
		}
	}
	for _, p := range m.Permissions {
		add(p.Name)
	}
	for _, p := range m.PermissionsSDK23 {
		add(p.Name)
	}
	return out, nil
}
