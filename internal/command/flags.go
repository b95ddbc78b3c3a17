// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// EnumFlag is a flag.Value accepting one of a fixed set of strings.
type EnumFlag struct {
	valid  []string
	assign func(val string)
	def    string
}

// NewEnumFlag returns an EnumFlag accepting valid values, calling assign
// with the chosen one. def is assigned immediately and must be valid.
func NewEnumFlag(valid []string, assign func(val string), def string) *EnumFlag {
	f := &EnumFlag{valid: valid, assign: assign, def: def}
	if err := f.Set(def); err != nil {
		panic(err)
	}
	return f
}

// Default returns the default value.
func (f *EnumFlag) Default() string { return f.def }

// QuotedValues returns the accepted values, quoted and sorted.
func (f *EnumFlag) QuotedValues() string {
	qn := make([]string, 0, len(f.valid))
	for _, n := range f.valid {
		qn = append(qn, fmt.Sprintf("%q", n))
	}
	slices.Sort(qn)
	return strings.Join(qn, ", ")
}

func (f *EnumFlag) String() string { return "" }

// Set implements flag.Value.
func (f *EnumFlag) Set(v string) error {
	if !slices.Contains(f.valid, v) {
		return fmt.Errorf("must be in %s", f.QuotedValues())
	}
	f.assign(v)
	return nil
}

// KeyValueFlag is a repeatable flag.Value collecting "key=value" pairs.
type KeyValueFlag map[string]string

func (f KeyValueFlag) String() string {
	keys := maps.Keys(f)
	slices.Sort(keys)
	var parts []string
	for _, k := range keys {
		parts = append(parts, k+"="+f[k])
	}
	return strings.Join(parts, ",")
}

// Set implements flag.Value.
func (f KeyValueFlag) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || k == "" {
		return fmt.Errorf("%q is not in key=value form", v)
	}
	f[k] = val
	return nil
}
