package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Fields is a permissive string-keyed mapping. Events and tool parameters are
// both carried as Fields and read defensively: a missing or mistyped field
// reads as its zero value.
type Fields map[string]any

// Event is an inbound trigger. Only "action" has a fixed meaning.
type Event = Fields

// Str returns the field as a string. Numbers and booleans are formatted;
// anything else reads as "".
func (f Fields) Str(key string) string {
	v, ok := f[key]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// Int returns the field as an integer when it holds an integral number.
func (f Fields) Int(key string) (int64, bool) {
	return AsInt(f[key])
}

// Float returns the field as a float64 when it holds any number.
func (f Fields) Float(key string) (float64, bool) {
	return AsFloat(f[key])
}

// Bool returns the field when it holds a boolean.
func (f Fields) Bool(key string) bool {
	b, _ := f[key].(bool)
	return b
}

// Map returns a nested mapping.
func (f Fields) Map(key string) Fields {
	switch v := f[key].(type) {
	case map[string]any:
		return Fields(v)
	case Fields:
		return v
	default:
		return nil
	}
}

// Present reports whether the field is set to a non-empty value: a non-empty
// string, a non-zero number, true, or any non-nil composite.
func (f Fields) Present(key string) bool {
	v, ok := f[key]
	if !ok || v == nil {
		return false
	}
	switch val := v.(type) {
	case string:
		return val != ""
	case bool:
		return val
	}
	if n, ok := AsFloat(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// Stringify formats v the way it would read in a message: integral floats
// have no fractional part and nil is "".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// AsFloat converts any numeric value to float64.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// AsInt converts an integral numeric value to int64.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	// Integral floats such as 3.0 count as integers.
	f, ok := AsFloat(v)
	if !ok || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
		return 0, false
	}
	return int64(f), true
}
