package xapi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Value is a decoded xAPI JSON document or a fragment of one.
type Value struct {
	raw    any
	exists bool
}

// NewValue wraps an already decoded JSON value.
func NewValue(raw any) Value {
	return Value{raw: raw, exists: raw != nil}
}

// ParseValue decodes a JSON payload. Payloads that are not valid JSON are
// kept as plain strings, which is how bare status values arrive over MQTT.
func ParseValue(data []byte) Value {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		s := strings.TrimSpace(string(data))
		if s == "" {
			return Value{}
		}
		return NewValue(s)
	}
	return NewValue(raw)
}

// Exists reports whether the value was present.
func (v Value) Exists() bool {
	return v.exists
}

// Raw returns the underlying decoded value.
func (v Value) Raw() any {
	return v.raw
}

// Get walks a dotted xAPI path such as "Bookings.Current.Id". Segments
// match object keys case-insensitively. Numeric segments index arrays;
// a single-element array is stepped through transparently, matching how
// the API nests singleton status nodes.
func (v Value) Get(path string) Value {
	cur := v.raw
	if path == "" {
		return v
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := lookupKey(node, seg)
			if !ok {
				return Value{}
			}
			cur = next
		case []any:
			if i, err := strconv.Atoi(seg); err == nil {
				if i < 0 || i >= len(node) {
					return Value{}
				}
				cur = node[i]
				continue
			}
			if len(node) != 1 {
				return Value{}
			}
			obj, ok := node[0].(map[string]any)
			if !ok {
				return Value{}
			}
			next, ok := lookupKey(obj, seg)
			if !ok {
				return Value{}
			}
			cur = next
		default:
			return Value{}
		}
	}
	return NewValue(cur)
}

func lookupKey(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// String renders scalars as text. Objects and arrays render as JSON.
func (v Value) String() string {
	switch x := v.raw.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// Int parses the value as an integer. The API reports most numbers as
// strings, so both representations are accepted.
func (v Value) Int() (int, bool) {
	switch x := v.raw.(type) {
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			f, ferr := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return n, true
	default:
		return 0, false
	}
}

// Bool interprets xAPI truthy strings ("Yes", "True", "On") as true.
func (v Value) Bool() bool {
	switch x := v.raw.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "true", "on", "1":
			return true
		}
	}
	return false
}

// Len returns the number of elements of an array value, 0 otherwise.
func (v Value) Len() int {
	if arr, ok := v.raw.([]any); ok {
		return len(arr)
	}
	return 0
}

// Index returns element i of an array value.
func (v Value) Index(i int) Value {
	arr, ok := v.raw.([]any)
	if !ok || i < 0 || i >= len(arr) {
		return Value{}
	}
	return NewValue(arr[i])
}

// MarshalJSON encodes the underlying value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}
