package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// Value is a mirrored JSON value. It is emitted verbatim as JSON and as
// the equivalent YAML node.
type Value json.RawMessage

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(v).MarshalJSON()
}

// MarshalYAML implements yaml.Marshaler.
func (v Value) MarshalYAML() (any, error) {
	if len(v) == 0 {
		return nil, nil
	}
	var decoded any
	if err := json.Unmarshal(v, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

// String returns the compact JSON text.
func (v Value) String() string {
	if len(v) == 0 {
		return "null"
	}
	return string(v)
}

var (
	_ json.Marshaler = Value(nil)
	_ yaml.Marshaler = Value(nil)
)
