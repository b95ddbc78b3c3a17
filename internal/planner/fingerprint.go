// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package planner

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Inputs are the live values a build depends on.
type Inputs struct {
	// SourceDigest identifies the test sources, see SourceDigest.
	SourceDigest string
	// ABI is the target architecture, e.g. "arm64-v8a".
	ABI string
	// SDK is the target platform API level.
	SDK int
	// MinSDK is the lowest API level the native code is compiled for.
	MinSDK int
	// Dependencies are the resolved coordinates with their content hashes.
	Dependencies []string
	// Permissions is the final permission set.
	Permissions []string
	// HostPackage is the package name of the host application.
	HostPackage string
}

// Fingerprints holds one digest per stage.
type Fingerprints struct {
	Compile string
	Package string
	Install string
}

// Of returns the fingerprint of stage.
func (f Fingerprints) Of(s Stage) string {
	switch s {
	case Compile:
		return f.Compile
	case Package:
		return f.Package
	default:
		return f.Install
	}
}

// Compute derives the stage fingerprints from in. Each stage folds in the
// fingerprint of the stage before it, so a change upstream always changes
// every downstream fingerprint. Dependency and permission order do not
// matter.
func Compute(in Inputs) Fingerprints {
	compile := digest("compile", in.SourceDigest, in.ABI, strconv.Itoa(in.SDK), strconv.Itoa(in.MinSDK))

	deps := append([]string(nil), in.Dependencies...)
	slices.Sort(deps)
	perms := append([]string(nil), in.Permissions...)
	slices.Sort(perms)
	perms = slices.Compact(perms)

	pkg := digest("package", compile, strconv.Itoa(in.SDK), in.HostPackage,
		strings.Join(deps, "\n"), strings.Join(perms, "\n"))
	return Fingerprints{
		Compile: compile,
		Package: pkg,
		// The installed package is exactly the built one.
		Install: pkg,
	}
}

// digest hashes fields with length prefixes so that field boundaries are
// unambiguous.
func digest(fields ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		io.WriteString(h, f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// sourceFile reports whether a file takes part in the source digest.
func sourceFile(name string) bool {
	return strings.HasSuffix(name, ".go") || name == "go.mod" || name == "go.sum"
}

// SourceDigest hashes the Go sources under dir: every .go file, go.mod and
// go.sum, keyed by relative path. Hidden directories and testdata are
// skipped.
func SourceDigest(dir string) (string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != dir && (strings.HasPrefix(d.Name(), ".") || d.Name() == "testdata" || d.Name() == "target") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && sourceFile(d.Name()) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	slices.Sort(files)

	fields := []string{"sources"}
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return "", err
		}
		fields = append(fields, filepath.ToSlash(rel), string(b))
	}
	return digest(fields...), nil
}
