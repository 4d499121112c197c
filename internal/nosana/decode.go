package nosana

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a numeric payload field. It accepts JSON numbers and numeric
// strings; null, missing or malformed values decode as absent instead of
// failing the whole payload.
type Number struct {
	value float64
	valid bool
}

// NewNumber returns a present Number.
func NewNumber(v float64) Number {
	return Number{value: v, valid: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}

	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n.value, n.valid = f, true
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.value)
}

// Valid reports whether the field was present and numeric.
func (n Number) Valid() bool { return n.valid }

// Float returns the value and whether it is present.
func (n Number) Float() (float64, bool) { return n.value, n.valid }

// FloatPtr returns nil when the field is absent.
func (n Number) FloatPtr() *float64 {
	if !n.valid {
		return nil
	}
	v := n.value
	return &v
}

// IntPtr returns the value truncated to an integer, or nil when absent.
func (n Number) IntPtr() *int64 {
	if !n.valid {
		return nil
	}
	v := int64(n.value)
	return &v
}

// Text is a string payload field that also accepts bare numbers and booleans
// (kept as their literal text). Objects and arrays decode as absent.
type Text struct {
	value string
	valid bool
}

// NewText returns a present Text.
func NewText(s string) Text {
	return Text{value: s, valid: true}
}

func (t *Text) UnmarshalJSON(b []byte) error {
	*t = Text{}

	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		return nil
	}
	switch s[0] {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return nil
		}
		t.value, t.valid = str, true
	case '{', '[':
		return nil
	default:
		t.value, t.valid = s, true
	}
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.value)
}

// String returns the text, or "" when absent.
func (t Text) String() string { return t.value }

// Valid reports whether the field was present.
func (t Text) Valid() bool { return t.valid }

// Ptr returns nil when the field is absent or blank.
func (t Text) Ptr() *string {
	if !t.valid || strings.TrimSpace(t.value) == "" {
		return nil
	}
	v := t.value
	return &v
}

// decodeObject decodes body into dst, requiring a JSON object at the top level.
func decodeObject(body []byte, dst any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return errNotObject
	}
	return json.Unmarshal(trimmed, dst)
}

// decodeList accepts either a bare JSON array or an object wrapping the
// array under one of keys.
func decodeList(body []byte, keys ...string) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errNotList
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return items, nil
	case '{':
		var wrapper map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		for _, key := range keys {
			raw, ok := wrapper[key]
			if !ok {
				continue
			}
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil {
				return nil, err
			}
			return items, nil
		}
	}
	return nil, errNotList
}

// unixSeconds normalizes a timestamp that may be expressed in milliseconds.
func unixSeconds(n Number) int64 {
	v, ok := n.Float()
	if !ok || v <= 0 {
		return 0
	}
	if v > 1e12 {
		v /= 1000
	}
	return int64(v)
}
