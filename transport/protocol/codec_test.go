package protocol

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/mcp-training/keyquest/game/engine"
)

func TestFrameBufferSplitsFrames(t *testing.T) {
	t.Run("fragmented frame across chunks", func(t *testing.T) {
		fb := NewFrameBuffer(0)

		frames, err := fb.Append([]byte(`{"type":"jo`))
		require.NoError(t, err)
		assert.Empty(t, frames)
		assert.Equal(t, 11, fb.Buffered())

		frames, err = fb.Append([]byte(`in","player":"A"}` + "\n"))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.JSONEq(t, `{"type":"join","player":"A"}`, string(frames[0]))
		assert.Zero(t, fb.Buffered())
	})

	t.Run("several frames in one chunk plus a partial tail", func(t *testing.T) {
		fb := NewFrameBuffer(0)
		frames, err := fb.Append([]byte("{\"type\":\"a\"}\n{\"type\":\"b\"}\r\n\n   \n{\"type\""))
		require.NoError(t, err)
		require.Len(t, frames, 2)
		assert.Equal(t, `{"type":"a"}`, string(frames[0]))
		assert.Equal(t, `{"type":"b"}`, string(frames[1]))
		assert.Equal(t, len(`{"type"`), fb.Buffered())
	})

	t.Run("frames do not alias the read buffer", func(t *testing.T) {
		fb := NewFrameBuffer(0)
		chunk := []byte("{\"type\":\"x\"}\n")
		frames, err := fb.Append(chunk)
		require.NoError(t, err)
		copy(chunk, strings.Repeat("z", len(chunk)))
		assert.Equal(t, `{"type":"x"}`, string(frames[0]))
	})

	t.Run("oversized frame is discarded up to the next newline", func(t *testing.T) {
		fb := NewFrameBuffer(16)

		frames, err := fb.Append([]byte(strings.Repeat("x", 20)))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		assert.Empty(t, frames)

		frames, err = fb.Append([]byte("still junk\n{\"type\":\"ok\"}\n"))
		require.NoError(t, err)
		require.Len(t, frames, 1)
		assert.Equal(t, `{"type":"ok"}`, string(frames[0]))
	})

	t.Run("oversized complete frame in one chunk", func(t *testing.T) {
		fb := NewFrameBuffer(8)
		frames, err := fb.Append([]byte(strings.Repeat("y", 12) + "\n{\"a\":1}\n"))
		assert.ErrorIs(t, err, ErrFrameTooLarge)
		require.Len(t, frames, 1)
		assert.Equal(t, `{"a":1}`, string(frames[0]))
	})
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		check   func(t *testing.T, msg *Message)
	}{
		{
			name:  "join with lobby",
			frame: `{"type":"join","player":"A","lobby_code":"abc"}`,
			check: func(t *testing.T, msg *Message) {
				assert.Equal(t, TypeJoin, msg.Type)
				assert.Equal(t, "A", msg.Player)
				assert.Equal(t, "abc", msg.LobbyCode)
			},
		},
		{
			name:  "move with array position",
			frame: `{"type":"move","player":"A","position":[2.5,11]}`,
			check: func(t *testing.T, msg *Message) {
				require.NotNil(t, msg.Position)
				assert.Equal(t, engine.Position{X: 2.5, Y: 11}, msg.Position.Position())
			},
		},
		{
			name:  "move with object position",
			frame: `{"type":"move","player":"A","position":{"x":3,"y":4}}`,
			check: func(t *testing.T, msg *Message) {
				require.NotNil(t, msg.Position)
				assert.Equal(t, 3.0, msg.Position.X)
				assert.Equal(t, 4.0, msg.Position.Y)
			},
		},
		{name: "invalid json", frame: `{"type":`, wantErr: true},
		{name: "missing type", frame: `{"player":"A"}`, wantErr: true},
		{name: "short position", frame: `{"type":"move","position":[1]}`, wantErr: true},
		{name: "not an object", frame: `[1,2,3]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			tt.check(t, msg)
		})
	}
}

func TestPossession(t *testing.T) {
	decode := func(frame string) *Message {
		msg, err := Decode([]byte(frame))
		require.NoError(t, err)
		return msg
	}

	set, name, err := decode(`{"type":"push","object_id":"key1"}`).Possession()
	require.NoError(t, err)
	assert.False(t, set)
	assert.Nil(t, name)

	set, name, err = decode(`{"type":"push","object_id":"key1","possessed_by":null}`).Possession()
	require.NoError(t, err)
	assert.True(t, set)
	assert.Nil(t, name)

	set, name, err = decode(`{"type":"push","object_id":"key1","possessed_by":"B"}`).Possession()
	require.NoError(t, err)
	assert.True(t, set)
	require.NotNil(t, name)
	assert.Equal(t, "B", *name)

	_, _, err = decode(`{"type":"push","object_id":"key1","possessed_by":7}`).Possession()
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestEncode(t *testing.T) {
	frame, err := Encode(NewPlayerPassedDoor("main", "A", "door1"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(frame), "\n"))
	assert.Equal(t, 1, strings.Count(string(frame), "\n"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(frame, &got))
	assert.Equal(t, "player_passed_door", got["type"])
	assert.Equal(t, "main", got["lobby_code"])
	assert.Equal(t, "door1", got["door_id"])
	assert.Equal(t, true, got["passed"])

	frame, err = Encode(NewSyncPositions("main", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sync_positions","lobby_code":"main","players":{}}`, string(frame))

	frame, err = Encode(NewGamePass("main"))
	require.NoError(t, err)
	assert.Contains(t, string(frame), GamePassText)
}
