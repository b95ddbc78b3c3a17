// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config reads the project configuration file, vampire.yaml.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/build"
	"go.vampire.dev/vampire/internal/maven"
	"go.vampire.dev/vampire/internal/sdk"
)

// FileName is the name of the project configuration file.
const FileName = "vampire.yaml"

// Defaults for fields missing from the configuration file.
const (
	DefaultPackage     = "."
	DefaultLibName     = "libvampire_tests.so"
	DefaultHostPackage = "com.vampire.host"
	DefaultTargetSDK   = 30
	DefaultMinSDK      = 24
	DefaultABI         = "arm64-v8a"
	DefaultOutputDir   = "target/vampire"
	DefaultAPKName     = "vampire-host.apk"
)

// Project is a parsed project configuration.
type Project struct {
	// Dir is the directory holding the configuration file. Relative paths
	// are resolved against it.
	Dir string
	// Package is the Go package containing the tests, relative to Dir.
	Package string
	// LibName is the file name of the compiled test library.
	LibName     string
	HostPackage string
	TargetSDK   int
	MinSDK      int
	ABI         string
	// Permissions are requested by the host application in addition to
	// those of dependencies.
	Permissions []string
	// Dependencies are the declared coordinates in declaration order.
	Dependencies []maven.Coordinate
	// Repositories override the default Maven repositories when non-empty.
	Repositories []string
	// UpgradeCompatible raises transitive dependencies to the newest
	// compatible release.
	UpgradeCompatible bool
}

type projectYAML struct {
	Package           string        `yaml:"package"`
	LibName           string        `yaml:"lib_name"`
	HostPackage       string        `yaml:"host_package"`
	TargetSDK         int           `yaml:"target_sdk"`
	MinSDK            int           `yaml:"min_sdk"`
	ABI               string        `yaml:"abi"`
	Permissions       []string      `yaml:"permissions"`
	Dependencies      yaml.MapSlice `yaml:"dependencies"`
	Repositories      []string      `yaml:"repositories"`
	UpgradeCompatible bool          `yaml:"upgrade_compatible"`
}

// dependencyYAML is the table form of a dependency entry.
type dependencyYAML struct {
	Version string `yaml:"version"`
}

var (
	javaPackageRegexp = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*(\.[A-Za-z][A-Za-z0-9_]*)+$`)
	libNameRegexp     = regexp.MustCompile(`^lib[A-Za-z0-9_.-]+\.so$`)
)

// Load reads the configuration file in dir.
func Load(dir string) (*Project, error) {
	path := filepath.Join(dir, FileName)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", FileName)
	}
	p, err := Parse(b)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", path)
	}
	p.Dir = dir
	return p, nil
}

// Parse parses configuration file contents and applies defaults.
func Parse(b []byte) (*Project, error) {
	var y projectYAML
	if err := yaml.UnmarshalStrict(b, &y); err != nil {
		return nil, err
	}

	p := &Project{
		Package:           y.Package,
		LibName:           y.LibName,
		HostPackage:       y.HostPackage,
		TargetSDK:         y.TargetSDK,
		MinSDK:            y.MinSDK,
		ABI:               y.ABI,
		Repositories:      y.Repositories,
		UpgradeCompatible: y.UpgradeCompatible,
	}
	if p.Package == "" {
		p.Package = DefaultPackage
	}
	if p.LibName == "" {
		p.LibName = DefaultLibName
	}
	if p.HostPackage == "" {
		p.HostPackage = DefaultHostPackage
	}
	if p.TargetSDK == 0 {
		p.TargetSDK = DefaultTargetSDK
	}
	if p.MinSDK == 0 {
		p.MinSDK = DefaultMinSDK
	}
	if p.ABI == "" {
		p.ABI = DefaultABI
	}

	if !javaPackageRegexp.MatchString(p.HostPackage) {
		return nil, errors.Errorf("host_package %q is not a valid application package name", p.HostPackage)
	}
	if !libNameRegexp.MatchString(p.LibName) {
		return nil, errors.Errorf("lib_name %q must have the form lib<name>.so", p.LibName)
	}
	if p.LibName == build.RunnerLibName {
		return nil, errors.Errorf("lib_name %q is reserved for the runner", p.LibName)
	}
	if p.MinSDK > p.TargetSDK {
		return nil, errors.Errorf("min_sdk %d is above target_sdk %d", p.MinSDK, p.TargetSDK)
	}
	if _, err := sdk.LookupABI(p.ABI); err != nil {
		return nil, err
	}

	seenPerm := make(map[string]bool)
	for _, perm := range y.Permissions {
		perm = strings.TrimSpace(perm)
		if perm == "" || seenPerm[perm] {
			continue
		}
		seenPerm[perm] = true
		p.Permissions = append(p.Permissions, perm)
	}

	seen := make(map[string]bool)
	for _, item := range y.Dependencies {
		c, err := parseDependency(item)
		if err != nil {
			return nil, err
		}
		if seen[c.Key()] {
			return nil, errors.Errorf("dependency %s is declared more than once", c.Key())
		}
		seen[c.Key()] = true
		p.Dependencies = append(p.Dependencies, c)
	}
	return p, nil
}

// parseDependency parses an entry of the form "group:artifact: version" or
// "group:artifact: {version: ...}".
func parseDependency(item yaml.MapItem) (maven.Coordinate, error) {
	key, ok := item.Key.(string)
	if !ok {
		return maven.Coordinate{}, errors.Errorf("dependency name %v is not a string", item.Key)
	}
	parts := strings.Split(key, ":")
	if len(parts) != 2 {
		return maven.Coordinate{}, errors.Errorf("dependency name %q must have the form group:artifact", key)
	}

	var version string
	switch v := item.Value.(type) {
	case string:
		version = v
	case int, float64:
		return maven.Coordinate{}, errors.Errorf("dependency %s: version %v must be quoted", key, v)
	case yaml.MapSlice:
		b, err := yaml.Marshal(v)
		if err != nil {
			return maven.Coordinate{}, err
		}
		var d dependencyYAML
		if err := yaml.UnmarshalStrict(b, &d); err != nil {
			return maven.Coordinate{}, errors.Wrapf(err, "dependency %s", key)
		}
		version = d.Version
	default:
		return maven.Coordinate{}, errors.Errorf("dependency %s has unsupported value %v", key, v)
	}
	c, err := maven.New(parts[0], parts[1], version)
	if err != nil {
		return maven.Coordinate{}, errors.Wrapf(err, "dependency %s", key)
	}
	return c, nil
}

// PackageDir returns the directory of the test package.
func (p *Project) PackageDir() string {
	return filepath.Join(p.Dir, filepath.FromSlash(p.Package))
}

// Layout describes where build outputs are written.
type Layout struct {
	// Dir is the output directory.
	Dir string
	ABI string
	// LibName is the file name of the test library.
	LibName string
}

// Layout returns the output layout rooted at outDir, relative to the
// project directory unless absolute. An empty outDir selects the default.
func (p *Project) Layout(outDir string) *Layout {
	if outDir == "" {
		outDir = DefaultOutputDir
	}
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(p.Dir, outDir)
	}
	return &Layout{Dir: outDir, ABI: p.ABI, LibName: p.LibName}
}

// NativeDir is the directory holding compiled native binaries.
func (l *Layout) NativeDir() string { return filepath.Join(l.Dir, "lib", l.ABI) }

// TestLib is the compiled test library.
func (l *Layout) TestLib() string { return filepath.Join(l.NativeDir(), l.LibName) }

// Runner is the compiled on-device runner.
func (l *Layout) Runner() string { return filepath.Join(l.NativeDir(), build.RunnerLibName) }

// APK is the signed host application.
func (l *Layout) APK() string { return filepath.Join(l.Dir, DefaultAPKName) }

// WorkDir holds packaging intermediates.
func (l *Layout) WorkDir() string { return filepath.Join(l.Dir, "host-build") }

// Results is the machine-readable results file of the last test run.
func (l *Layout) Results() string { return filepath.Join(l.Dir, "results.json") }

// FullLog is the complete log of the last command.
func (l *Layout) FullLog() string { return filepath.Join(l.Dir, "full.txt") }

// Timing is the timing log of the last command.
func (l *Layout) Timing() string { return filepath.Join(l.Dir, "timing.json") }

// DeviceLog is the runner log captured from the device in the last test run.
func (l *Layout) DeviceLog() string { return filepath.Join(l.Dir, "device.txt") }
