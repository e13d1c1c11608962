package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// RawObject is a decoded JSON object whose fields are looked up by a list
// of accepted spellings, so that snake_case and camelCase payloads from
// different backend versions normalize to the same values.
type RawObject map[string]json.RawMessage

func ParseRawObject(data []byte) (RawObject, error) {
	var obj RawObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		obj = RawObject{}
	}
	return obj, nil
}

// lookup returns the first spelling present with a non-null value.
func (o RawObject) lookup(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		raw, ok := o[k]
		if ok && len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			return raw, true
		}
	}
	return nil, false
}

func (o RawObject) Has(keys ...string) bool {
	_, ok := o.lookup(keys...)
	return ok
}

// String accepts JSON strings and numbers.
func (o RawObject) String(keys ...string) string {
	raw, ok := o.lookup(keys...)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (o RawObject) Float(keys ...string) (float64, bool) {
	raw, ok := o.lookup(keys...)
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		f, err := n.Float64()
		return f, err == nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

func (o RawObject) Int(keys ...string) (int, bool) {
	f, ok := o.Float(keys...)
	if !ok {
		return 0, false
	}
	return int(f), true
}

func (o RawObject) IntPtr(keys ...string) *int {
	if v, ok := o.Int(keys...); ok {
		return &v
	}
	return nil
}

func (o RawObject) FloatPtr(keys ...string) *float64 {
	if v, ok := o.Float(keys...); ok {
		return &v
	}
	return nil
}

// Time parses RFC 3339 timestamps; anything else yields nil.
func (o RawObject) Time(keys ...string) *time.Time {
	s := o.String(keys...)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// Objects decodes an array of objects. Elements that are not objects are
// dropped.
func (o RawObject) Objects(keys ...string) []RawObject {
	raw, ok := o.lookup(keys...)
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]RawObject, 0, len(items))
	for _, item := range items {
		obj, err := ParseRawObject(item)
		if err != nil {
			continue
		}
		out = append(out, obj)
	}
	return out
}

func (o RawObject) Object(keys ...string) (RawObject, bool) {
	raw, ok := o.lookup(keys...)
	if !ok {
		return nil, false
	}
	obj, err := ParseRawObject(raw)
	if err != nil {
		return nil, false
	}
	return obj, true
}
