package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Packet
		wantErr error
	}{
		{name: "ping", input: "2", want: Packet{Type: PacketPing, Data: []byte{}}},
		{name: "probe pong", input: "3probe", want: Packet{Type: PacketPong, Data: []byte("probe")}},
		{name: "message", input: `42["x"]`, want: Packet{Type: PacketMessage, Data: []byte(`2["x"]`)}},
		{name: "empty", input: "", wantErr: ErrEmptyPacket},
		{name: "unknown type", input: "9", wantErr: ErrUnknownPacket},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePacket([]byte(tt.input))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Type, got.Type)
			assert.Equal(t, string(tt.want.Data), string(got.Data))
		})
	}
}

func TestPayloadSplitsOnRecordSeparator(t *testing.T) {
	payload := EncodePayload(PingPacket(), Packet{Type: PacketMessage, Data: []byte(`2["a",{}]`)})
	assert.Equal(t, "2\x1e42[\"a\",{}]", string(payload))

	packets, err := DecodePayload(payload)
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, PacketPing, packets[0].Type)
	assert.Equal(t, PacketMessage, packets[1].Type)

	packets, err = DecodePayload(nil)
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestHandshakeLiveness(t *testing.T) {
	assert.Equal(t, 45*time.Second, Handshake{PingInterval: 25000, PingTimeout: 20000}.Liveness())
	assert.Zero(t, Handshake{}.Liveness())
}

func TestDecodeFrame(t *testing.T) {
	t.Run("connect ack", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`0{"sid":"abc"}`))
		require.NoError(t, err)
		assert.Equal(t, FrameConnect, f.Type)
		assert.JSONEq(t, `{"sid":"abc"}`, string(f.Data))
	})

	t.Run("namespaced event with ack id", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`2/chat,12["response_end",{}]`))
		require.NoError(t, err)
		assert.Equal(t, "/chat", f.Namespace)
		ev, err := f.Event()
		require.NoError(t, err)
		assert.Equal(t, EventResponseEnd, ev.Name)
	})

	t.Run("event without payload", func(t *testing.T) {
		f, err := DecodeFrame([]byte(`2["response_start"]`))
		require.NoError(t, err)
		ev, err := f.Event()
		require.NoError(t, err)
		assert.Equal(t, EventResponseStart, ev.Name)
		assert.JSONEq(t, `{}`, string(ev.Payload))
	})

	t.Run("bare disconnect", func(t *testing.T) {
		f, err := DecodeFrame([]byte("1"))
		require.NoError(t, err)
		assert.Equal(t, FrameDisconnect, f.Type)
		assert.Nil(t, f.Data)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`2["x",`))
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unknown frame type", func(t *testing.T) {
		_, err := DecodeFrame([]byte(`7[]`))
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestEncodeEvent(t *testing.T) {
	sessionID := 7
	p, err := EncodeEvent(EventSendMessage, SendMessage{Message: "hi", SessionID: &sessionID})
	require.NoError(t, err)
	assert.Equal(t, `42["send_message",{"message":"hi","session_id":7}]`, string(p.Encode()))

	p, err = EncodeEvent(EventJoinChat, JoinChat{CompanionID: 1, UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `42["join_chat",{"companion_id":1,"user_id":"u1"}]`, string(p.Encode()))

	frame, err := DecodeFrame(p.Data)
	require.NoError(t, err)
	ev, err := frame.Event()
	require.NoError(t, err)
	var join JoinChat
	require.NoError(t, json.Unmarshal(ev.Payload, &join))
	assert.Equal(t, JoinChat{CompanionID: 1, UserID: "u1"}, join)
}

func TestControlPackets(t *testing.T) {
	assert.Equal(t, "40", string(ConnectPacket().Encode()))
	assert.Equal(t, "41", string(DisconnectPacket().Encode()))

	ack, err := ConnectAckPacket("s1")
	require.NoError(t, err)
	assert.Equal(t, `40{"sid":"s1"}`, string(ack.Encode()))

	refused, err := ConnectErrorPacket("nope")
	require.NoError(t, err)
	assert.Equal(t, `44{"message":"nope"}`, string(refused.Encode()))
}

func TestChatMessageDecodesBothShapes(t *testing.T) {
	var history ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"id":3,"role":"assistant","content":"你好","timestamp":"2024-01-02T03:04:05Z"}`), &history))
	require.NotNil(t, history.ID)
	assert.EqualValues(t, 3, *history.ID)
	assert.Equal(t, RoleAssistant, history.Role)
	assert.Equal(t, "你好", history.Content)
	assert.Equal(t, "2024-01-02T03:04:05Z", history.Timestamp)

	var echo ChatMessage
	require.NoError(t, json.Unmarshal([]byte(`{"message":"hello","timestamp":1712.5}`), &echo))
	assert.Nil(t, echo.ID)
	assert.Equal(t, RoleUser, echo.Role)
	assert.Equal(t, "hello", echo.Content)
	assert.Equal(t, "1712.5", echo.Timestamp)
}
