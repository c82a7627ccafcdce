package proto

import (
	"encoding/json"
	"fmt"
	"strings"
)

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// MustContent marshals v into a message content string.
func MustContent(v any) string {
	return string(MustMarshal(v))
}

// DecodeContent strictly decodes a JSON message content into v.
func DecodeContent(content string, v any) error {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: content: %v", ErrDecode, err)
	}
	return nil
}
