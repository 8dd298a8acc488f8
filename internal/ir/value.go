package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface representing the scalar types a record payload
// may carry. Only String, Int, Uint, Float and Bool implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// String represents a string value.
type String string

func (String) value() {}

// Int represents a signed integer value.
type Int int64

func (Int) value() {}

// Uint represents an unsigned 64-bit value such as a counter word or seed.
// Emitted as an exact decimal integer, never through float64.
type Uint uint64

func (Uint) value() {}

// Float represents a finite float64. NaN and ±Inf are rejected by MarshalCanonical.
type Float float64

func (Float) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Object represents a flat map of string keys to values.
// Use SortedKeys() for deterministic iteration.
type Object map[string]Value

// Pair represents a key-value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// O is a shorthand for Pair for ergonomic construction.
// Example: NewObject(O("merchant_id", Uint(7)), O("country_iso", String("GB")))
func O(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// NewObject creates an Object from typed key-value pairs.
func NewObject(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// Clone returns a shallow copy of obj. Values are immutable scalars, so a
// shallow copy is a full copy.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order which differs for astral-plane keys.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// MarshalJSON implements json.Marshaler for Object using canonical encoding.
func (obj Object) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(obj)
}

// UnmarshalJSON implements json.Unmarshaler for Object.
// Numbers containing '.', 'e' or 'E' decode as Float, negative integers as Int,
// and non-negative integers as Uint so that 64-bit counters survive a round trip.
func (obj *Object) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*obj = make(Object, len(raw))
	for k, v := range raw {
		val, err := unmarshalValue(v)
		if err != nil {
			return fmt.Errorf("object key %q: %w", k, err)
		}
		(*obj)[k] = val
	}
	return nil
}

// unmarshalValue decodes a scalar JSON value. Null, arrays and nested objects
// are rejected.
func unmarshalValue(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, err
		}
		return Bool(b), nil
	case 'n':
		return nil, fmt.Errorf("null is forbidden in records")
	case '[', '{':
		return nil, fmt.Errorf("nested values are forbidden in records: %s", string(data))
	}

	s := string(data)
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %s: %w", s, err)
		}
		return Float(f), nil
	}
	if strings.HasPrefix(s, "-") {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int %s: %w", s, err)
		}
		return Int(n), nil
	}
	u, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse uint %s: %w", s, err)
	}
	return Uint(u), nil
}

// AsUint extracts an unsigned integer from v. Non-negative Int values are accepted.
func AsUint(v Value) (uint64, bool) {
	switch val := v.(type) {
	case Uint:
		return uint64(val), true
	case Int:
		if val >= 0 {
			return uint64(val), true
		}
	}
	return 0, false
}

// AsString extracts a string from v.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsFloat extracts a float from v. Integer values are widened.
func AsFloat(v Value) (float64, bool) {
	switch val := v.(type) {
	case Float:
		return float64(val), true
	case Int:
		return float64(val), true
	case Uint:
		return float64(val), true
	}
	return 0, false
}

// isFinite reports whether f can be serialized.
func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
