package workqueue

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is the flat key→value record crossing the enqueue/execute
// boundary. Values are strings; typed accessors handle conversion. No
// shared mutable state crosses the boundary: Clone before handing off.
type Payload map[string]string

// NewPayload creates an empty payload.
func NewPayload() Payload {
	return make(Payload)
}

// Clone returns an independent copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// SetString stores a string value.
func (p Payload) SetString(key, value string) {
	p[key] = value
}

// String reads a required string value.
func (p Payload) String(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("payload missing required key %q", key)
	}
	return v, nil
}

// StringOr reads an optional string value.
func (p Payload) StringOr(key, fallback string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return fallback
}

// SetInt64 stores an integer value.
func (p Payload) SetInt64(key string, value int64) {
	p[key] = strconv.FormatInt(value, 10)
}

// Int64 reads a required integer value.
func (p Payload) Int64(key string) (int64, error) {
	v, ok := p[key]
	if !ok {
		return 0, fmt.Errorf("payload missing required key %q", key)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("payload key %q is not an integer: %w", key, err)
	}
	return n, nil
}

// SetStringSlice stores a string array value.
func (p Payload) SetStringSlice(key string, values []string) {
	b, _ := json.Marshal(values)
	p[key] = string(b)
}

// StringSlice reads an optional string array value; a missing key yields nil.
func (p Payload) StringSlice(key string) ([]string, error) {
	v, ok := p[key]
	if !ok || v == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("payload key %q is not a string array: %w", key, err)
	}
	return out, nil
}

// SetJSON stores a serialized structure.
func (p Payload) SetJSON(key string, value interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize payload key %q: %w", key, err)
	}
	p[key] = string(b)
	return nil
}

// JSON reads a serialized structure into dest; a missing key leaves dest
// untouched.
func (p Payload) JSON(key string, dest interface{}) error {
	v, ok := p[key]
	if !ok || v == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(v), dest); err != nil {
		return fmt.Errorf("payload key %q does not deserialize: %w", key, err)
	}
	return nil
}
