// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package assemble

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/extract"
)

// LocalOrigin names classes compiled from the host application sources in
// conflict reports.
const LocalOrigin = "host application"

// MergeConflictError is returned when two contributors supply different
// contents under the same name.
type MergeConflictError struct {
	// Entry is the class file or native library path in the package.
	Entry string
	// First and Second name the contributors, usually as coordinates.
	First, Second string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("conflicting %s from %s and %s", e.Entry, e.First, e.Second)
}

// ClassSource is a set of compiled classes.
type ClassSource struct {
	// Origin names the contributor.
	Origin string
	// Jar is a jar file holding the classes.
	Jar string
	// Dir is a directory tree of class files. It is used when Jar is empty.
	Dir string
}

// DependencyClasses returns the class sources of deps in order.
func DependencyClasses(deps []*extract.Contribution) []ClassSource {
	srcs := make([]ClassSource, len(deps))
	for i, d := range deps {
		srcs[i] = ClassSource{Origin: d.Coordinate.String(), Jar: d.ClassesJar}
	}
	return srcs
}

type mergedEntry struct {
	origin string
	sum    [sha256.Size]byte
}

// MergeClasses writes every class of srcs into a single jar at dst.
// Identical duplicates are kept once; a class supplied with different bytes
// by two sources is a *MergeConflictError.
func MergeClasses(dst string, srcs []ClassSource) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)

	seen := make(map[string]mergedEntry)
	add := func(origin, name string, data []byte) error {
		sum := sha256.Sum256(data)
		if prev, ok := seen[name]; ok {
			if prev.sum != sum {
				return &MergeConflictError{Entry: name, First: prev.origin, Second: origin}
			}
			return nil
		}
		seen[name] = mergedEntry{origin: origin, sum: sum}
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	for _, src := range srcs {
		if src.Jar != "" {
			err = addJarClasses(src, add)
		} else {
			err = addDirClasses(src, add)
		}
		if err != nil {
			break
		}
	}
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
	}
	return err
}

func addJarClasses(src ClassSource, add func(origin, name string, data []byte) error) error {
	zr, err := zip.OpenReader(src.Jar)
	if err != nil {
		return errors.Wrapf(err, "failed to open classes of %s", src.Origin)
	}
	defer zr.Close()
	for _, zf := range zr.File {
		if !strings.HasSuffix(zf.Name, ".class") || strings.HasPrefix(zf.Name, "META-INF/") {
			continue
		}
		data, err := readZipFile(zf)
		if err != nil {
			return errors.Wrapf(err, "failed to read %s from %s", zf.Name, src.Origin)
		}
		if err := add(src.Origin, zf.Name, data); err != nil {
			return err
		}
	}
	return nil
}

func addDirClasses(src ClassSource, add func(origin, name string, data []byte) error) error {
	return filepath.WalkDir(src.Dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".class") {
			return err
		}
		rel, err := filepath.Rel(src.Dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return add(src.Origin, filepath.ToSlash(rel), data)
	})
}

func readZipFile(zf *zip.File) ([]byte, error) {
	r, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// NativeFile is a shared library placed in the package.
type NativeFile struct {
	// Entry is the path in the package, e.g. "lib/arm64-v8a/libfoo.so".
	Entry string
	// Path is the local file.
	Path   string
	Origin string
}

// CollectNativeLibs lists the shared libraries to ship for abi: own in the
// given order followed by those of deps. A library name supplied twice with
// different contents is a *MergeConflictError.
func CollectNativeLibs(abi string, own []NativeFile, deps []*extract.Contribution) ([]NativeFile, error) {
	var all []NativeFile
	for _, f := range own {
		f.Entry = path.Join("lib", abi, filepath.Base(f.Path))
		all = append(all, f)
	}
	for _, d := range deps {
		for _, l := range d.NativeLibsFor(abi) {
			all = append(all, NativeFile{
				Entry:  path.Join("lib", abi, l.Name),
				Path:   l.Path,
				Origin: d.Coordinate.String(),
			})
		}
	}

	var out []NativeFile
	seen := make(map[string]mergedEntry)
	for _, f := range all {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(data)
		if prev, ok := seen[f.Entry]; ok {
			if prev.sum != sum {
				return nil, &MergeConflictError{Entry: f.Entry, First: prev.origin, Second: f.Origin}
			}
			continue
		}
		seen[f.Entry] = mergedEntry{origin: f.Origin, sum: sum}
		out = append(out, f)
	}
	return out, nil
}

// addEntries copies the apk at src to dst, adding dex files at the top
// level and native libraries. Native libraries are stored uncompressed.
func addEntries(src, dst string, dexFiles []string, libs []NativeFile) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer zr.Close()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, zf := range zr.File {
		if err := zw.Copy(zf); err != nil {
			return err
		}
	}
	add := func(name, local string, method uint16, mode os.FileMode) error {
		data, err := os.ReadFile(local)
		if err != nil {
			return err
		}
		hdr := &zip.FileHeader{Name: name, Method: method}
		hdr.SetMode(mode)
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}
	for _, d := range dexFiles {
		if err := add(filepath.Base(d), d, zip.Deflate, 0644); err != nil {
			return err
		}
	}
	for _, l := range libs {
		if err := add(l.Entry, l.Path, zip.Store, 0755); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(dst, buf.Bytes(), 0644)
}
