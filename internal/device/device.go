// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package device deploys the host application and test libraries to an
// Android device over adb and launches test runs.
//
// The driver is the only component that changes device contents. Every
// decision about whether to install or push is made from state queried
// from the device during the current run.
package device

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.vampire.dev/vampire/errors"
	"go.vampire.dev/vampire/internal/logging"
	"go.vampire.dev/vampire/internal/protocol"
	"go.vampire.dev/vampire/internal/xcontext"
	"go.vampire.dev/vampire/shutil"
)

// stagingDir is a world-writable directory files are pushed to before being
// moved into place.
const stagingDir = "/data/local/tmp"

// LogTag is the logcat tag used by the host application for runner output.
const LogTag = "TestRunner"

// Config describes the host application on the device.
type Config struct {
	// Package is the package name of the host application.
	Package string
	// Instrumentation is the instrumentation class, relative to Package
	// when it starts with a dot.
	Instrumentation string
}

// Error is returned for failed device operations.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// State is the deployment state of the host application, queried live.
type State struct {
	Serial string
	// InstalledFingerprint is the fingerprint of the installed host
	// application, or empty if it is not installed.
	InstalledFingerprint string
	// NativeLibFingerprint is the SHA-1 of the deployed test library, or
	// empty if there is none.
	NativeLibFingerprint string
}

// Driver performs operations on one device.
type Driver struct {
	sh  Shell
	cfg Config
}

// New returns a Driver using sh.
func New(sh Shell, cfg *Config) *Driver {
	return &Driver{sh: sh, cfg: *cfg}
}

// Serial returns the serial of the device.
func (d *Driver) Serial() string {
	return d.sh.Serial()
}

// exitMarker is appended to shell commands to recover their exit status,
// which adb does not report.
const exitMarker = "vampire-exit:"

// run runs cmd in the device shell and returns its combined output and exit
// status.
func (d *Driver) run(ctx context.Context, cmd string) (string, int, error) {
	logging.Debug(ctx, "Running on device: ", cmd)
	var out string
	err := doAsync(ctx, func() error {
		var err error
		out, err = d.sh.RunShellCommand(cmd + "; echo " + exitMarker + "$?")
		return err
	}, nil)
	if err != nil {
		return "", 0, err
	}
	out = strings.ReplaceAll(out, "\r\n", "\n")
	i := strings.LastIndex(out, exitMarker)
	if i < 0 {
		return out, 0, errors.Errorf("no exit status from %q", cmd)
	}
	status, err := strconv.Atoi(strings.TrimSpace(out[i+len(exitMarker):]))
	if err != nil {
		return out, 0, errors.Errorf("malformed exit status from %q", cmd)
	}
	return out[:i], status, nil
}

// check runs cmd and fails if it exits with nonzero status.
func (d *Driver) check(ctx context.Context, cmd string) (string, error) {
	out, status, err := d.run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return out, errors.Errorf("%q exited with status %d: %s", cmd, status, strings.TrimSpace(out))
	}
	return out, nil
}

// push copies the contents of r to remotePath.
func (d *Driver) push(ctx context.Context, r io.Reader, remotePath string, mode os.FileMode) error {
	logging.Debug(ctx, "Pushing ", remotePath)
	return doAsync(ctx, func() error {
		return d.sh.Push(r, remotePath, time.Now(), mode)
	}, nil)
}

// IsInstalled reports whether the host application is installed.
func (d *Driver) IsInstalled(ctx context.Context) (bool, error) {
	out, err := d.check(ctx, shutil.Command("pm", "list", "packages", d.cfg.Package))
	if err != nil {
		return false, &Error{Op: "query packages", Err: err}
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == "package:"+d.cfg.Package {
			return true, nil
		}
	}
	return false, nil
}

var versionNameRegexp = regexp.MustCompile(`(?m)^\s*versionName=(\S*)\s*$`)

// installedFingerprint returns the versionName of the installed host
// application, which carries its fingerprint.
func (d *Driver) installedFingerprint(ctx context.Context) (string, error) {
	ok, err := d.IsInstalled(ctx)
	if err != nil || !ok {
		return "", err
	}
	out, err := d.check(ctx, shutil.Command("dumpsys", "package", d.cfg.Package))
	if err != nil {
		return "", &Error{Op: "query package", Err: err}
	}
	if m := versionNameRegexp.FindStringSubmatch(out); m != nil {
		return m[1], nil
	}
	return "", nil
}

// privatePath returns the path of name in the host application's private
// files directory.
func (d *Driver) privatePath(name string) string {
	return path.Join("/data/data", d.cfg.Package, "files", name)
}

// deployedHash returns the SHA-1 of the private file name, or empty if it
// does not exist.
func (d *Driver) deployedHash(ctx context.Context, name string) (string, error) {
	out, status, err := d.run(ctx, shutil.Command("run-as", d.cfg.Package, "sha1sum", "files/"+name))
	if err != nil {
		return "", &Error{Op: "query library", Err: err}
	}
	if status != 0 {
		return "", nil
	}
	fields := strings.Fields(out)
	if len(fields) == 0 || len(fields[0]) != sha1.Size*2 {
		return "", nil
	}
	return fields[0], nil
}

// State queries the deployment state. libName is the file name of the test
// library.
func (d *Driver) State(ctx context.Context, libName string) (*State, error) {
	st := &State{Serial: d.Serial()}
	fp, err := d.installedFingerprint(ctx)
	if err != nil {
		return nil, err
	}
	st.InstalledFingerprint = fp
	if fp == "" {
		return st, nil
	}
	if st.NativeLibFingerprint, err = d.deployedHash(ctx, libName); err != nil {
		return nil, err
	}
	return st, nil
}

// Install installs the application package at apkPath, built with
// fingerprint fp. Unless force is set, nothing happens if the device reports
// that fp is already installed. It reports whether an install happened.
func (d *Driver) Install(ctx context.Context, apkPath, fp string, force bool) (bool, error) {
	if !force {
		cur, err := d.installedFingerprint(ctx)
		if err != nil {
			return false, err
		}
		if cur == fp {
			logging.Infof(ctx, "%s is up to date on %s", d.cfg.Package, d.Serial())
			return false, nil
		}
	}

	f, err := os.Open(apkPath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	staging := path.Join(stagingDir, filepath.Base(apkPath))
	if err := d.push(ctx, f, staging, 0644); err != nil {
		return false, &Error{Op: "push package", Err: err}
	}
	defer d.run(ctx, shutil.Command("rm", "-f", staging))

	logging.Infof(ctx, "Installing %s on %s", d.cfg.Package, d.Serial())
	out, err := d.check(ctx, shutil.Command("pm", "install", "-r", "-t", staging))
	if err != nil {
		return false, &Error{Op: "install", Err: err}
	}
	if !strings.Contains(out, "Success") {
		return false, &Error{Op: "install", Err: errors.Errorf("pm install: %s", strings.TrimSpace(out))}
	}
	return true, nil
}

// PushNativeLibrary deploys the library at localPath into the host
// application's private files directory. Unless force is set, nothing is
// pushed when the deployed copy has the same SHA-1. It returns the on-device
// path of the library and whether it was pushed.
func (d *Driver) PushNativeLibrary(ctx context.Context, localPath string, force bool) (string, bool, error) {
	name := filepath.Base(localPath)
	remote := d.privatePath(name)

	sum, err := fileSHA1(localPath)
	if err != nil {
		return "", false, err
	}
	if !force {
		cur, err := d.deployedHash(ctx, name)
		if err != nil {
			return "", false, err
		}
		if cur == sum {
			logging.Infof(ctx, "%s is up to date on %s", name, d.Serial())
			return remote, false, nil
		}
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	staging := path.Join(stagingDir, name)
	if err := d.push(ctx, f, staging, 0644); err != nil {
		return "", false, &Error{Op: "push library", Err: err}
	}
	defer d.run(ctx, shutil.Command("rm", "-f", staging))

	// Only the application itself can write to its private directory.
	script := fmt.Sprintf("mkdir -p files && cp %s files/%s && chmod 755 files/%s",
		shutil.Escape(staging), shutil.Escape(name), shutil.Escape(name))
	if _, err := d.check(ctx, shutil.Command("run-as", d.cfg.Package, "sh", "-c", script)); err != nil {
		return "", false, &Error{Op: "deploy library", Err: err}
	}
	logging.Infof(ctx, "Pushed %s to %s", name, d.Serial())
	return remote, true, nil
}

var errLaunchTimeout = errors.New("launch timed out")

// Launch runs the instrumentation of the host application with args and
// waits up to timeout for the result.
func (d *Driver) Launch(ctx context.Context, args *protocol.LaunchArgs, timeout time.Duration) (*protocol.Payload, error) {
	cmd := []string{"am", "instrument", "-w"}
	for _, kv := range args.Extras() {
		cmd = append(cmd, "-e", kv[0], kv[1])
	}
	cmd = append(cmd, d.cfg.Package+"/"+d.cfg.Instrumentation)

	lctx, cancel := xcontext.WithTimeout(ctx, timeout, errLaunchTimeout)
	defer cancel(errors.New("launch finished"))

	logging.Infof(ctx, "Launching tests on %s", d.Serial())
	var out string
	err := doAsync(lctx, func() error {
		var err error
		out, err = d.sh.RunShellCommand(shutil.EscapeSlice(cmd))
		return err
	}, nil)
	if err != nil {
		if lctx.Err() != nil && ctx.Err() == nil {
			// The instrumentation keeps running on the device otherwise.
			d.run(context.Background(), shutil.Command("am", "force-stop", d.cfg.Package))
			return nil, &Error{Op: "launch", Err: errors.Errorf("launch timed out after %v", timeout)}
		}
		return nil, &Error{Op: "launch", Err: err}
	}
	logging.Debugf(ctx, "Instrumentation output:\n%s", out)

	p, err := protocol.ParseInstrumentation(strings.NewReader(out))
	if err != nil {
		return nil, &Error{Op: "launch", Err: err}
	}
	return p, nil
}

// ClearLogs clears the device log.
func (d *Driver) ClearLogs(ctx context.Context) error {
	if _, err := d.check(ctx, shutil.Command("logcat", "-c")); err != nil {
		return &Error{Op: "clear logs", Err: err}
	}
	return nil
}

// Logs returns the runner's log lines from the device log. Unless verbose is
// set only informational lines and above are included.
func (d *Driver) Logs(ctx context.Context, verbose bool) (string, error) {
	filter := LogTag + ":I"
	if verbose {
		filter = LogTag + ":*"
	}
	out, err := d.check(ctx, shutil.Command("logcat", "-d", "-v", "threadtime", "-s", filter))
	if err != nil {
		return "", &Error{Op: "read logs", Err: err}
	}
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		// logcat prints section headers such as "--------- beginning of main".
		if line == "" || strings.HasPrefix(line, "--------- ") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func fileSHA1(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
