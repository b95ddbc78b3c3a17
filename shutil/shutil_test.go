// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package shutil_test

import (
	"testing"

	"go.vampire.dev/vampire/shutil"
)

func TestEscape(t *testing.T) {
	for _, c := range []struct {
		in, exp string
	}{
		{``, `''`},
		{` `, `' '`},
		{`ab`, `ab`},
		{`a b`, `'a b'`},
		{`AZaz09@%_+=:,./-`, `AZaz09@%_+=:,./-`},
		{`a!b`, `'a!b'`},
		{`'`, `''"'"''`},
		{`=foo`, `'=foo'`},
		{`Vampire's`, `'Vampire'"'"'s'`},
		{`/data/local/tmp/libtests.so`, `/data/local/tmp/libtests.so`},
		{`TestAdd*`, `'TestAdd*'`},
	} {
		if s := shutil.Escape(c.in); s != c.exp {
			t.Errorf("Escape(%q) = %q; want %q", c.in, s, c.exp)
		}
	}
}

func TestCommand(t *testing.T) {
	for _, c := range []struct {
		name string
		args []string
		exp  string
	}{
		{"pm list packages", nil, "pm list packages"},
		{"run-as", []string{"com.vampire.host", "sha1sum", "files/lib tests.so"}, `run-as com.vampire.host sha1sum 'files/lib tests.so'`},
	} {
		if s := shutil.Command(c.name, c.args...); s != c.exp {
			t.Errorf("Command(%q, %q) = %q; want %q", c.name, c.args, s, c.exp)
		}
	}
}
