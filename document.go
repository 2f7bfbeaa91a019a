package inkwell

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
)

// Document is the opaque structured value stored in a binder and carried as
// command parameters and event bodies. It is replaced whole, never patched.
type Document map[string]any

// Clone returns a shallow copy of d. Nested maps and slices are shared.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Int returns the integer stored under key. Decoded JSON numbers arrive as
// float64, so those are accepted when they hold a whole value.
func (d Document) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// String returns the string stored under key.
func (d Document) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}
