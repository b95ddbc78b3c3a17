// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package protocol

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"go.vampire.dev/vampire/errors"
)

// Prefixes of the lines printed by "am instrument -w".
const (
	resultPrefix  = "INSTRUMENTATION_RESULT: "
	codePrefix    = "INSTRUMENTATION_CODE: "
	failedPrefix  = "INSTRUMENTATION_FAILED: "
	abortedPrefix = "INSTRUMENTATION_ABORTED: "
	linePrefix    = "INSTRUMENTATION_"
)

// Activity result codes reported by the instrumentation.
const (
	codeOK       = -1
	codeCanceled = 0
)

// OrderSeparator joins names in the test_order value of an instrumentation
// result.
const OrderSeparator = ","

// ParseInstrumentation parses the output of "am instrument -w". It fails
// when the output does not contain a finished instrumentation, e.g. because
// the host application crashed or is not installed.
func ParseInstrumentation(r io.Reader) (*Payload, error) {
	values := make(map[string]string)
	var keys []string
	var last string
	code, haveCode := 0, false

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, resultPrefix):
			kv := strings.TrimPrefix(line, resultPrefix)
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, errors.Errorf("malformed result line %q", line)
			}
			if _, dup := values[k]; !dup {
				keys = append(keys, k)
			}
			values[k] = v
			last = k
		case strings.HasPrefix(line, codePrefix):
			c, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, codePrefix)))
			if err != nil {
				return nil, errors.Errorf("malformed result code %q", line)
			}
			code, haveCode = c, true
			last = ""
		case strings.HasPrefix(line, failedPrefix):
			return nil, errors.Errorf("instrumentation failed: %s", strings.TrimPrefix(line, failedPrefix))
		case strings.HasPrefix(line, abortedPrefix):
			return nil, errors.Errorf("instrumentation aborted: %s", strings.TrimPrefix(line, abortedPrefix))
		case strings.HasPrefix(line, linePrefix):
			last = ""
		case last != "":
			// Multi-line values continue until the next prefixed line.
			values[last] += "\n" + line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !haveCode {
		return nil, errors.New("instrumentation did not finish (process crashed?)")
	}

	if msg, ok := values[KeyError]; ok || code == codeCanceled {
		if msg == "" {
			msg = "run cancelled without an error message"
		}
		return &Payload{Status: StatusCancelled, Results: make(map[string]bool), Error: msg}, nil
	}
	if code != codeOK {
		return nil, errors.Errorf("unexpected instrumentation result code %d", code)
	}

	p := NewPayload()
	for _, k := range keys {
		v := values[k]
		if IsReserved(k) {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.Errorf("result of %s is %q, not a boolean", k, v)
		}
		p.Results[k] = b
	}
	var err error
	if p.Total, err = intValue(values, KeyTotal); err != nil {
		return nil, err
	}
	if p.Passed, err = intValue(values, KeyPassed); err != nil {
		return nil, err
	}
	if p.Failed, err = intValue(values, KeyFailed); err != nil {
		return nil, err
	}
	if o := values[KeyOrder]; o != "" {
		p.Order = strings.Split(o, OrderSeparator)
	}
	if err := p.fillOrder(); err != nil {
		return nil, err
	}
	if err := p.Check(); err != nil {
		return nil, errors.Wrap(err, "bad instrumentation result")
	}
	return p, nil
}

func intValue(values map[string]string, key string) (int, error) {
	v, ok := values[key]
	if !ok {
		return 0, errors.Errorf("missing %s in instrumentation result", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Errorf("malformed %s %q", key, v)
	}
	return n, nil
}
