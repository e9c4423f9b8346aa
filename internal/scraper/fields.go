package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is an extracted field: either a single string or an ordered list.
type Value struct {
	text   string
	items  []string
	isList bool
}

// Scalar wraps a single extracted string.
func Scalar(s string) Value {
	return Value{text: s}
}

// List wraps multiple extracted strings.
func List(items []string) Value {
	return Value{items: append([]string(nil), items...), isList: true}
}

// FromMatches applies the one-scalar, many-list rule. ok is false for no matches.
func FromMatches(matches []string) (Value, bool) {
	switch len(matches) {
	case 0:
		return Value{}, false
	case 1:
		return Scalar(matches[0]), true
	default:
		return List(matches), true
	}
}

// IsList reports whether the value holds several matches.
func (v Value) IsList() bool { return v.isList }

// Text returns the scalar value, or the first list element.
func (v Value) Text() string {
	if v.isList {
		if len(v.items) == 0 {
			return ""
		}
		return v.items[0]
	}
	return v.text
}

// Items returns every match in order.
func (v Value) Items() []string {
	if v.isList {
		return append([]string(nil), v.items...)
	}
	return []string{v.text}
}

// MarshalJSON encodes scalars as strings and lists as arrays.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.isList {
		items := v.items
		if items == nil {
			items = []string{}
		}
		return json.Marshal(items)
	}
	return json.Marshal(v.text)
}

// UnmarshalJSON accepts either a string or an array of strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []string
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return fmt.Errorf("decode field list: %w", err)
		}
		*v = List(items)
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return fmt.Errorf("decode field value: %w", err)
	}
	*v = Scalar(s)
	return nil
}

// Fields maps rule names to extracted values.
type Fields map[string]Value
