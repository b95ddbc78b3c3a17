// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cache

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"os"

	"go.vampire.dev/vampire/errors"
)

// verifyArchive checks that path is a complete, readable zip file.
func verifyArchive(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.Size() == 0 {
		return errors.New("empty file")
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrap(err, "not a zip archive")
	}
	return zr.Close()
}

// verifyXML checks that path holds a well-formed XML document.
func verifyXML(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := xml.NewDecoder(f)
	dec.Strict = false
	elems := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrap(err, "malformed XML")
		}
		if _, ok := tok.(xml.StartElement); ok {
			elems++
		}
	}
	if elems == 0 {
		return errors.New("no XML elements")
	}
	return nil
}
