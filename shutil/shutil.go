// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package shutil quotes arguments for the device shell.
//
// adb joins shell arguments with spaces and hands the result to the device's
// sh, so every argument that may contain spaces or metacharacters (paths,
// test filters, package names) goes through Escape first.
package shutil

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// \w is [0-9A-Za-z_]. A leading '=' is unsafe in zsh.
	leadingSafeChars  = `-\w@%+:,./`
	trailingSafeChars = leadingSafeChars + "="
)

var safeRE = regexp.MustCompile(fmt.Sprintf("^[%s][%s]*$", leadingSafeChars, trailingSafeChars))

// Escape quotes s for a POSIX shell. Safe strings are returned unchanged.
func Escape(s string) string {
	if safeRE.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// EscapeSlice quotes each of args and joins them with spaces.
func EscapeSlice(args []string) string {
	escaped := make([]string, len(args))
	for i, arg := range args {
		escaped[i] = Escape(arg)
	}
	return strings.Join(escaped, " ")
}

// Command returns a shell command line running name with args, where name
// is taken verbatim and args are quoted.
func Command(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + EscapeSlice(args)
}
