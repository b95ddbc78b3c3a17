// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package assemble

import (
	"bytes"
	"embed"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/device"
	"go.vampire.dev/vampire/internal/extract"
	"go.vampire.dev/vampire/internal/protocol"
)

//go:embed templates
var templates embed.FS

var (
	manifestTmpl = template.Must(template.ParseFS(templates, "templates/AndroidManifest.xml.tmpl"))
	shimTmpl     = template.Must(template.ParseFS(templates, "templates/VampireInstrumentation.java.tmpl"))
)

// ShimClass is the simple name of the instrumentation class.
const ShimClass = "VampireInstrumentation"

// ManifestParams holds the values substituted into AndroidManifest.xml.
type ManifestParams struct {
	Package string
	// VersionName carries the install fingerprint so the device can report
	// which build is installed.
	VersionName     string
	MinSDK          int
	TargetSDK       int
	Permissions     []string
	Instrumentation string
}

// WriteManifest renders the host application manifest.
func WriteManifest(p *ManifestParams) ([]byte, error) {
	var buf bytes.Buffer
	if err := manifestTmpl.Execute(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type shimParams struct {
	Package        string
	LogTag         string
	RunnerLib      string
	ErrorKey       string
	LibPathArg     string
	FilterArg      string
	OrderSeparator string
}

// WriteShim renders the Java source of the instrumentation class for pkg.
func WriteShim(pkg string) ([]byte, error) {
	var buf bytes.Buffer
	if err := shimTmpl.Execute(&buf, &shimParams{
		Package:        pkg,
		LogTag:         device.LogTag,
		RunnerLib:      build.RunnerLibName,
		ErrorKey:       protocol.KeyError,
		LibPathArg:     protocol.ArgLibPath,
		FilterArg:      protocol.ArgTestFilter,
		OrderSeparator: protocol.OrderSeparator,
	}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MergePermissions returns the sorted union of the declared permissions and
// those requested by dependencies.
func MergePermissions(declared []string, deps []*extract.Contribution) []string {
	set := make(map[string]struct{})
	for _, p := range declared {
		if p = strings.TrimSpace(p); p != "" {
			set[p] = struct{}{}
		}
	}
	for _, d := range deps {
		for _, p := range d.Permissions {
			set[p] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// writeSources lays out the host application sources under dir and returns
// the path of the Java source.
func writeSources(dir string, p *ManifestParams) (string, error) {
	mf, err := WriteManifest(p)
	if err != nil {
		return "", err
	}
	shim, err := WriteShim(p.Package)
	if err != nil {
		return "", err
	}
	javaPath := filepath.Join(dir, "java", filepath.FromSlash(strings.ReplaceAll(p.Package, ".", "/")), ShimClass+".java")

	files := make(map[string][]byte)
	files[filepath.Join(dir, "AndroidManifest.xml")] = mf
	files[javaPath] = shim
	if err := fs.WalkDir(templates, "templates/res", func(name string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := templates.ReadFile(name)
		if err != nil {
			return err
		}
		files[filepath.Join(dir, "res", filepath.FromSlash(strings.TrimPrefix(name, "templates/res/")))] = b
		return nil
	}); err != nil {
		return "", err
	}

	for name, b := range files {
		if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(name, b, 0644); err != nil {
			return "", errors.Wrapf(err, "failed to write %s", filepath.Base(name))
		}
	}
	return javaPath, nil
}
