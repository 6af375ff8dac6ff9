package peerlink

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Control channel message types.
const (
	ControlHello      = "hello"
	ControlMediaState = "media-state"
)

// ControlMessage is the msgpack envelope on the per-link control channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// Hello is sent by both sides as soon as the control channel opens.
type Hello struct {
	Name       string `msgpack:"name"`
	Version    string `msgpack:"version"`
	Audio      bool   `msgpack:"audio"`
	Video      bool   `msgpack:"video"`
	Presenting bool   `msgpack:"presenting"`
}

// MediaState is sent whenever the local mic, camera or screen share changes.
type MediaState struct {
	Audio      bool `msgpack:"audio"`
	Video      bool `msgpack:"video"`
	Presenting bool `msgpack:"presenting"`
}

// EncodeControl frames payload as a control message of type t.
func EncodeControl(t string, payload any) ([]byte, error) {
	p, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	return msgpack.Marshal(ControlMessage{Type: t, Payload: p})
}

// DecodeControl parses a control frame.
func DecodeControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return ControlMessage{}, fmt.Errorf("decode control message: %w", err)
	}
	return m, nil
}

// DecodePayload decodes the message payload into v.
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}
