// Copyright 2026 The ChromiumOS Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package protocol

import (
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"go.vampire.dev/vampire/errors"
)

// ToStruct converts p to the flat key/value form read by the host
// application: one boolean per test plus the reserved run-level keys.
func (p *Payload) ToStruct() (*structpb.Struct, error) {
	fields := make(map[string]*structpb.Value)
	if p.Status == StatusCancelled {
		fields[KeyError] = structpb.NewStringValue(p.Error)
		return &structpb.Struct{Fields: fields}, nil
	}
	order := make([]*structpb.Value, 0, len(p.Order))
	for _, name := range p.Order {
		if IsReserved(name) {
			return nil, errors.Errorf("test name %q is reserved", name)
		}
		fields[name] = structpb.NewBoolValue(p.Results[name])
		order = append(order, structpb.NewStringValue(name))
	}
	fields[KeyTotal] = structpb.NewNumberValue(float64(p.Total))
	fields[KeyPassed] = structpb.NewNumberValue(float64(p.Passed))
	fields[KeyFailed] = structpb.NewNumberValue(float64(p.Failed))
	fields[KeyOrder] = structpb.NewListValue(&structpb.ListValue{Values: order})
	return &structpb.Struct{Fields: fields}, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (*Payload, error) {
	fields := s.GetFields()
	if v, ok := fields[KeyError]; ok {
		return &Payload{Status: StatusCancelled, Results: make(map[string]bool), Error: v.GetStringValue()}, nil
	}

	p := NewPayload()
	for name, v := range fields {
		if IsReserved(name) {
			continue
		}
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return nil, errors.Errorf("result of %s is not a boolean", name)
		}
		p.Results[name] = b.BoolValue
	}
	p.Total = int(fields[KeyTotal].GetNumberValue())
	p.Passed = int(fields[KeyPassed].GetNumberValue())
	p.Failed = int(fields[KeyFailed].GetNumberValue())
	for _, v := range fields[KeyOrder].GetListValue().GetValues() {
		p.Order = append(p.Order, v.GetStringValue())
	}
	if err := p.fillOrder(); err != nil {
		return nil, err
	}
	return p, nil
}

// fillOrder makes Order cover exactly the names in Results. Names missing
// from the transmitted order are appended sorted.
func (p *Payload) fillOrder() error {
	seen := make(map[string]bool)
	var order []string
	for _, name := range p.Order {
		if _, ok := p.Results[name]; !ok {
			return errors.Errorf("test_order names unknown test %q", name)
		}
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	var rest []string
	for name := range p.Results {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	p.Order = append(order, rest...)
	return nil
}

// Marshal encodes p as JSON.
func (p *Payload) Marshal() ([]byte, error) {
	s, err := p.ToStruct()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

// Unmarshal decodes a payload encoded by Marshal.
func Unmarshal(b []byte) (*Payload, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "malformed payload")
	}
	return FromStruct(&s)
}
