package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrDecode is wrapped by every codec failure.
var ErrDecode = errors.New("proto: decode")

// Message is the wire unit exchanged between agents. It is never mutated after
// being sent; a reply is always a new Message.
type Message struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content"`
	FromID  string      `json:"from_id"`
	ToID    string      `json:"to_id"`
}

// NewMessage builds a message from fromID to toID.
func NewMessage(t MessageType, content, fromID, toID string) Message {
	return Message{Type: t, Content: content, FromID: fromID, ToID: toID}
}

// Ack is the default reply sent by fromID back to the sender of req.
func Ack(fromID string, req Message) Message {
	return Message{Type: TypeAck, FromID: fromID, ToID: req.FromID}
}

// Empty is the placeholder returned when no reply could be obtained.
func Empty() Message { return Message{Type: TypeNone} }

// IsEmpty reports whether m is a CORE_NONE placeholder.
func (m Message) IsEmpty() bool { return m.Type == TypeNone }

// WithTo returns a copy of m addressed to id.
func (m Message) WithTo(id string) Message {
	m.ToID = id
	return m
}

// Encode writes m as one JSON document followed by a newline.
func Encode(w io.Writer, m Message) error {
	return json.NewEncoder(w).Encode(m)
}

// Decode reads exactly one message. Unknown fields and a missing type are
// decode errors.
func Decode(r io.Reader) (Message, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var m Message
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if m.Type == (MessageType{}) {
		return Message{}, fmt.Errorf("%w: missing type", ErrDecode)
	}
	return m, nil
}

// Marshal returns the wire form of m without a trailing newline.
func Marshal(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal is Decode over a byte slice.
func Unmarshal(b []byte) (Message, error) {
	return Decode(bytes.NewReader(b))
}
