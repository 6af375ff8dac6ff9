package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ClientMessage
	}{
		{
			name: "join",
			raw:  `{"type":"join-room","room_id":"r1","payload":{"name":" Alice "}}`,
			want: JoinRoom{RoomID: "r1", Name: "Alice"},
		},
		{
			name: "join without name",
			raw:  `{"type":"join-room","room_id":"r1"}`,
			want: JoinRoom{RoomID: "r1"},
		},
		{
			name: "leave",
			raw:  `{"type":"leave-room","room_id":"r1"}`,
			want: LeaveRoom{RoomID: "r1"},
		},
		{
			name: "offer keeps payload bytes",
			raw:  `{"type":"offer","target":"b","payload":{"type":"offer","sdp":"v=0"}}`,
			want: Directed{Type: TypeOffer, Target: "b", Payload: []byte(`{"type":"offer","sdp":"v=0"}`)},
		},
		{
			name: "caption",
			raw:  `{"type":"caption","room_id":"r1","payload":{"name":"Alice","text":"hello"}}`,
			want: Caption{RoomID: "r1", Name: "Alice", Text: "hello"},
		},
		{
			name: "screen share",
			raw:  `{"type":"screen-share","room_id":"r1","payload":{"active":true}}`,
			want: ScreenShare{RoomID: "r1", Active: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &msg))

			got, err := ParseClientMessage(&msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseClientMessageRejects(t *testing.T) {
	tests := map[string]string{
		"unknown type":         `{"type":"roster"}`,
		"join without room":    `{"type":"join-room","payload":{"name":"a"}}`,
		"offer without target": `{"type":"offer","payload":{"sdp":"x"}}`,
		"ice without payload":  `{"type":"ice-candidate","target":"b"}`,
		"empty caption":        `{"type":"caption","room_id":"r1","payload":{"text":"  "}}`,
		"share bad payload":    `{"type":"screen-share","room_id":"r1","payload":{"active":"yes"}}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			var msg Message
			require.NoError(t, json.Unmarshal([]byte(raw), &msg))

			_, err := ParseClientMessage(&msg)
			assert.Error(t, err)
		})
	}
}

func TestParseClientMessageUnknownIsSentinel(t *testing.T) {
	_, err := ParseClientMessage(&Message{Type: "create_room"})
	assert.ErrorIs(t, err, ErrUnknownType)
}
