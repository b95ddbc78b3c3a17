// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package protocol

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.vampire.dev/vampire/errors"
)

func TestPayloadAdd(t *testing.T) {
	p := NewPayload()
	p.Add("test_b", true)
	p.Add("test_a", false)
	p.Add("test_c", true)

	if p.Total != 3 || p.Passed != 2 || p.Failed != 1 {
		t.Errorf("Counts = %d/%d/%d; want 3/2/1", p.Total, p.Passed, p.Failed)
	}
	want := []TestResult{{"test_b", true}, {"test_a", false}, {"test_c", true}}
	if diff := cmp.Diff(p.TestResults(), want); diff != "" {
		t.Errorf("TestResults mismatch (-got +want):\n%s", diff)
	}
	if err := p.Check(); err != nil {
		t.Error("Check failed: ", err)
	}
}

func TestPayloadCheck(t *testing.T) {
	for _, tc := range []struct {
		name string
		p    *Payload
	}{
		{"bad failed count", &Payload{Results: map[string]bool{"a": true}, Total: 1, Passed: 1, Failed: 1}},
		{"missing result", &Payload{Results: map[string]bool{}, Total: 1, Passed: 0, Failed: 1}},
		{"wrong passed", &Payload{Results: map[string]bool{"a": false}, Total: 1, Passed: 1, Failed: 0}},
		{"cancelled with results", &Payload{Status: StatusCancelled, Error: "x", Results: map[string]bool{"a": true}}},
		{"cancelled without error", &Payload{Status: StatusCancelled}},
	} {
		if err := tc.p.Check(); err == nil {
			t.Errorf("%s: Check succeeded", tc.name)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	p := NewPayload()
	p.Add("zeta", true)
	p.Add("alpha", false)

	b, err := p.Marshal()
	if err != nil {
		t.Fatal("Marshal failed: ", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatal("Unmarshal failed: ", err)
	}
	if diff := cmp.Diff(got, p); diff != "" {
		t.Errorf("Payload mismatch (-got +want):\n%s", diff)
	}
}

func TestMarshalCancelled(t *testing.T) {
	b, err := Cancelled(errors.New("failed to load library")).Marshal()
	if err != nil {
		t.Fatal("Marshal failed: ", err)
	}
	got, err := Unmarshal(b)
	if err != nil {
		t.Fatal("Unmarshal failed: ", err)
	}
	want := &Payload{Status: StatusCancelled, Results: map[string]bool{}, Error: "failed to load library"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Payload mismatch (-got +want):\n%s", diff)
	}
}

func TestMarshalRejectsReservedName(t *testing.T) {
	p := NewPayload()
	p.Add(KeyTotal, true)
	if _, err := p.Marshal(); err == nil {
		t.Error("Marshal accepted a test named ", KeyTotal)
	}
}

func TestParseInstrumentation(t *testing.T) {
	const out = `INSTRUMENTATION_RESULT: test_basic=true
INSTRUMENTATION_RESULT: test_should_panic=true
INSTRUMENTATION_RESULT: test_broken=false
INSTRUMENTATION_RESULT: total_tests=3
INSTRUMENTATION_RESULT: passed_tests=2
INSTRUMENTATION_RESULT: failed_tests=1
INSTRUMENTATION_RESULT: test_order=test_basic,test_broken,test_should_panic
INSTRUMENTATION_CODE: -1
`
	got, err := ParseInstrumentation(strings.NewReader(out))
	if err != nil {
		t.Fatal("ParseInstrumentation failed: ", err)
	}
	want := &Payload{
		Results: map[string]bool{"test_basic": true, "test_should_panic": true, "test_broken": false},
		Order:   []string{"test_basic", "test_broken", "test_should_panic"},
		Total:   3,
		Passed:  2,
		Failed:  1,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Payload mismatch (-got +want):\n%s", diff)
	}
}

func TestParseInstrumentationEmptyRun(t *testing.T) {
	const out = "INSTRUMENTATION_RESULT: total_tests=0\r\n" +
		"INSTRUMENTATION_RESULT: passed_tests=0\r\n" +
		"INSTRUMENTATION_RESULT: failed_tests=0\r\n" +
		"INSTRUMENTATION_CODE: -1\r\n"
	got, err := ParseInstrumentation(strings.NewReader(out))
	if err != nil {
		t.Fatal("ParseInstrumentation failed: ", err)
	}
	if got.Total != 0 || len(got.Results) != 0 || got.Status != StatusOK {
		t.Errorf("ParseInstrumentation = %+v; want an empty successful run", got)
	}
}

func TestParseInstrumentationCancelled(t *testing.T) {
	const out = `INSTRUMENTATION_RESULT: error=dlopen failed: library "libfoo.so" not found
referenced by "/data/user/0/com.vampire.host/files/libtests.so"
INSTRUMENTATION_CODE: 0
`
	got, err := ParseInstrumentation(strings.NewReader(out))
	if err != nil {
		t.Fatal("ParseInstrumentation failed: ", err)
	}
	want := &Payload{
		Status:  StatusCancelled,
		Results: map[string]bool{},
		Error:   "dlopen failed: library \"libfoo.so\" not found\nreferenced by \"/data/user/0/com.vampire.host/files/libtests.so\"",
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("Payload mismatch (-got +want):\n%s", diff)
	}
}

func TestParseInstrumentationErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		out  string
	}{
		{"not installed", "INSTRUMENTATION_FAILED: com.vampire.host/.VampireInstrumentation\n"},
		{"crashed", "INSTRUMENTATION_RESULT: shortMsg=Process crashed.\n"},
		{"aborted", "INSTRUMENTATION_ABORTED: System has crashed.\nINSTRUMENTATION_CODE: 0\n"},
		{"bad boolean", "INSTRUMENTATION_RESULT: a=maybe\nINSTRUMENTATION_RESULT: total_tests=1\nINSTRUMENTATION_CODE: -1\n"},
		{"missing counts", "INSTRUMENTATION_RESULT: a=true\nINSTRUMENTATION_CODE: -1\n"},
		{"inconsistent", "INSTRUMENTATION_RESULT: a=true\nINSTRUMENTATION_RESULT: total_tests=1\n" +
			"INSTRUMENTATION_RESULT: passed_tests=1\nINSTRUMENTATION_RESULT: failed_tests=1\nINSTRUMENTATION_CODE: -1\n"},
	} {
		if p, err := ParseInstrumentation(strings.NewReader(tc.out)); err == nil {
			t.Errorf("%s: ParseInstrumentation = %+v; want error", tc.name, p)
		}
	}
}

func TestFilter(t *testing.T) {
	m := &TestMetadata{Name: "test_Network_Fetch"}
	for _, tc := range []struct {
		filter string
		want   bool
	}{
		{"", true},
		{"Network", true},
		{"network", false},
		{"test_Network_Fetch", true},
		{"Fetch_", false},
	} {
		if got := m.Matches(tc.filter); got != tc.want {
			t.Errorf("Matches(%q) = %v; want %v", tc.filter, got, tc.want)
		}
	}
}

func TestLaunchArgsExtras(t *testing.T) {
	a := &LaunchArgs{LibPath: "/data/lib.so"}
	if diff := cmp.Diff(a.Extras(), [][2]string{{ArgLibPath, "/data/lib.so"}}); diff != "" {
		t.Errorf("Extras mismatch (-got +want):\n%s", diff)
	}
	a.TestFilter = "net"
	want := [][2]string{{ArgLibPath, "/data/lib.so"}, {ArgTestFilter, "net"}}
	if diff := cmp.Diff(a.Extras(), want); diff != "" {
		t.Errorf("Extras mismatch (-got +want):\n%s", diff)
	}
}
