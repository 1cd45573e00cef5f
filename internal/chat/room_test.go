package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

func TestCommandsAreDroppedWhileDisconnected(t *testing.T) {
	s, d, m := newTestSession(t, fastConfig())

	assert.NoError(t, s.Join(1, "u1", nil))
	assert.NoError(t, s.Send("hello?", nil))
	_, ok := s.Room.Membership()
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedCommands.WithLabelValues(protocol.EventJoinChat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedCommands.WithLabelValues(protocol.EventSendMessage)))

	require.NoError(t, s.Connect(context.Background()))
	assert.Empty(t, d.Last().Emitted(), "nothing is buffered for later delivery")
}

func TestCommandsAreDroppedWhileConnecting(t *testing.T) {
	s, d, m := newTestSession(t, fastConfig())
	d.Block()

	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()
	select {
	case <-d.Dialed():
	case <-time.After(time.Second):
		t.Fatal("dial never started")
	}
	require.Equal(t, StatusConnecting, s.Conn.Status())

	assert.NoError(t, s.Join(1, "u1", nil))
	assert.NoError(t, s.Send("hello?", nil))
	_, ok := s.Room.Membership()
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedCommands.WithLabelValues(protocol.EventJoinChat)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DroppedCommands.WithLabelValues(protocol.EventSendMessage)))

	d.Unblock()
	require.NoError(t, <-result)
	assert.Empty(t, d.Last().Emitted())
}

func TestJoinAndSendEncodePayloads(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	require.NoError(t, s.Join(2, "u9", intPtr(7)))
	require.NoError(t, s.Send("早上好", intPtr(7)))
	require.NoError(t, s.Send("no session", nil))

	emitted := d.Last().Emitted()
	require.Len(t, emitted, 3)
	assert.Equal(t, protocol.EventJoinChat, emitted[0].Name)
	assert.JSONEq(t, `{"companion_id":2,"user_id":"u9","chat_session_id":7}`, string(emitted[0].Payload))
	assert.Equal(t, protocol.EventSendMessage, emitted[1].Name)
	assert.JSONEq(t, `{"message":"早上好","session_id":7}`, string(emitted[1].Payload))
	assert.JSONEq(t, `{"message":"no session"}`, string(emitted[2].Payload))
}

func TestMembershipFollowsJoinAcknowledgement(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))
	conn := d.Last()

	var acks recorder[json.RawMessage]
	s.Room.OnJoined(acks.add)

	require.NoError(t, s.Join(1, "u1", nil))
	m, ok := s.Room.Membership()
	require.True(t, ok)
	assert.Equal(t, Membership{CompanionID: 1, UserID: "u1"}, m)

	ack := map[string]any{
		"companion_id":    1,
		"chat_session_id": 42,
		"message":         "你好，我是小温",
		"history":         []any{map[string]any{"role": "assistant", "content": "欢迎回来"}},
	}
	conn.Push(protocol.EventChatJoined, ack)

	m, ok = s.Room.Membership()
	require.True(t, ok)
	assert.True(t, m.Joined)
	require.NotNil(t, m.SessionID)
	assert.Equal(t, 42, *m.SessionID)

	require.Equal(t, 1, acks.len())
	want, _ := json.Marshal(ack)
	assert.JSONEq(t, string(want), string(acks.all()[0]))

	s.Disconnect()
	_, ok = s.Room.Membership()
	assert.False(t, ok)
}

func TestMembershipSnapshotIsACopy(t *testing.T) {
	s, _, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	id := 3
	require.NoError(t, s.Join(1, "u1", &id))
	id = 99

	m, ok := s.Room.Membership()
	require.True(t, ok)
	*m.SessionID = 100

	again, _ := s.Room.Membership()
	assert.Equal(t, 3, *again.SessionID)
}

func TestMessageReceivedIsForwarded(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	var msgs recorder[Message]
	s.Room.OnMessage(msgs.add)

	d.Last().PushRaw(protocol.EventMessageReceived, []byte(`{"message":"hi","timestamp":1712.5}`))
	d.Last().PushRaw(protocol.EventMessageReceived, []byte(`{"id":5,"role":"user","content":"again","timestamp":"2024-05-01T08:00:00Z"}`))

	got := msgs.all()
	require.Len(t, got, 2)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, "hi", got[0].Content)
	assert.True(t, got[0].Timestamp.IsZero())

	assert.Equal(t, "5", got[1].ID)
	assert.Equal(t, "again", got[1].Content)
	assert.Equal(t, 2024, got[1].Timestamp.Year())
}

func TestSendReportsWriteFailures(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	broken := errors.New("broken pipe")
	d.Last().FailEmits(broken)

	err := s.Send("hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, broken)
	assert.ErrorIs(t, s.Join(1, "u1", nil), broken)
	_, ok := s.Room.Membership()
	assert.False(t, ok)
}
