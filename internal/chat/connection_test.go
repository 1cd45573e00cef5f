package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion-chat/internal/protocol"
	"github.com/zhouzirui/companion-chat/internal/transport/transporttest"
)

func TestStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestConnectPublishesStatesAndIsIdempotent(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	var states recorder[State]
	s.Conn.OnState(states.add)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StatusConnected, s.Conn.Status())
	assert.True(t, s.Conn.Connected())
	assert.Equal(t, "fake", s.Conn.Transport())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, statuses(states.all()))

	require.NoError(t, s.Connect(context.Background()))
	assert.Len(t, d.Conns(), 1)
	assert.Equal(t, 2, states.len())
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	s, d, m := newTestSession(t, fastConfig())
	var states recorder[State]
	s.Conn.OnState(states.add)
	d.FailNext(3, nil)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transporttest.ErrRefused)
	assert.Equal(t, StatusDisconnected, s.Conn.Status())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ConnectAttempts))

	got := states.all()
	assert.Equal(t, []Status{
		StatusConnecting,
		StatusConnecting,
		StatusConnecting,
		StatusConnecting,
		StatusDisconnected,
	}, statuses(got))
	for _, st := range got[1:] {
		assert.Error(t, st.Err)
	}

	// the caller may retry by hand
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.Conn.Connected())
}

func TestConnectSucceedsAfterTransientFailures(t *testing.T) {
	s, d, m := newTestSession(t, fastConfig())
	d.FailNext(2, nil)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ConnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Connections.WithLabelValues("fake")))
}

func TestConnectHonoursCallerContext(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	d.Block()
	defer d.Unblock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Connect(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StatusDisconnected, s.Conn.Status())
}

func TestDisconnectAbortsPendingConnect(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	d.Block()
	defer d.Unblock()

	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()

	select {
	case <-d.Dialed():
	case <-time.After(time.Second):
		t.Fatal("dial never started")
	}
	assert.Equal(t, StatusConnecting, s.Conn.Status())

	s.Disconnect()
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrConnectAborted)
	case <-time.After(time.Second):
		t.Fatal("connect did not return after disconnect")
	}
	assert.Equal(t, StatusDisconnected, s.Conn.Status())
	assert.Empty(t, d.Conns())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	var states recorder[State]
	s.Conn.OnState(states.add)

	s.Disconnect()
	assert.Zero(t, states.len())

	require.NoError(t, s.Connect(context.Background()))
	s.Disconnect()
	s.Disconnect()
	assert.True(t, d.Last().Closed())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, statuses(states.all()))
}

func TestStaleEventsAreIgnored(t *testing.T) {
	s, _, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	s.Conn.mu.Lock()
	stale := s.Conn.generation
	s.Conn.mu.Unlock()

	s.Disconnect()
	require.NoError(t, s.Connect(context.Background()))

	s.Conn.dispatch(stale, protocol.Event{Name: protocol.EventResponseStart})
	assert.False(t, s.Replies.Streaming())
}

func TestReconnectsAfterConnectionLoss(t *testing.T) {
	cfg := fastConfig()
	cfg.Reconnect = true
	s, d, _ := newTestSession(t, cfg)
	var states recorder[State]
	s.Conn.OnState(states.add)

	require.NoError(t, s.Connect(context.Background()))
	first := d.Last()
	boom := errors.New("boom")
	first.Drop(boom)

	require.Eventually(t, func() bool {
		return len(d.Conns()) == 2 && states.len() == 5
	}, time.Second, 5*time.Millisecond)

	got := states.all()
	assert.Equal(t, StatusDisconnected, got[2].Status)
	assert.ErrorIs(t, got[2].Err, boom)
	assert.Equal(t, StatusConnecting, got[3].Status)
	assert.Equal(t, StatusConnected, got[4].Status)
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	d.Last().Drop(errors.New("gone"))
	require.Eventually(t, func() bool {
		return s.Conn.Status() == StatusDisconnected
	}, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return len(d.Conns()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestDisconnectInsideLossNotificationSuppressesReconnect(t *testing.T) {
	cfg := fastConfig()
	cfg.Reconnect = true
	s, d, _ := newTestSession(t, cfg)
	require.NoError(t, s.Connect(context.Background()))

	lost := make(chan struct{})
	s.Conn.OnState(func(st State) {
		if st.Status == StatusDisconnected && st.Err != nil {
			s.Disconnect()
			close(lost)
		}
	})
	d.Last().Drop(errors.New("gone"))

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("loss was never reported")
	}
	assert.Never(t, func() bool { return len(d.Conns()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, StatusDisconnected, s.Conn.Status())
}

func TestDisconnectFromInsideEventCallback(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	s.Replies.OnStart(func(string) { s.Disconnect() })
	conn := d.Last()
	conn.Push(protocol.EventResponseStart, struct{}{})

	assert.Equal(t, StatusDisconnected, s.Conn.Status())
	assert.True(t, conn.Closed())
	require.Eventually(t, func() bool { return !s.Replies.Streaming() }, time.Second, time.Millisecond)
}

func TestAutoJoinFiresOncePerConnection(t *testing.T) {
	cfg := fastConfig()
	cfg.Reconnect = true
	s, d, _ := newTestSession(t, cfg)

	var joins recorder[int]
	s.Room.RegisterAutoJoin(func() {
		_ = s.Join(1, "u1", nil)
		joins.add(1)
	})

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return joins.len() == 1 }, time.Second, time.Millisecond)
	first := d.Last()
	assert.Len(t, first.EmittedNamed(protocol.EventJoinChat), 1)

	first.Push(protocol.EventConnected, protocol.Greeting{Message: "hello"})
	assert.Never(t, func() bool { return joins.len() > 1 }, 30*time.Millisecond, 5*time.Millisecond)

	first.Drop(errors.New("gone"))
	require.Eventually(t, func() bool { return joins.len() == 2 }, time.Second, time.Millisecond)
	second := d.Last()
	assert.NotSame(t, first, second)
	assert.Len(t, second.EmittedNamed(protocol.EventJoinChat), 1)
}

func TestAutoJoinWaitsForGreeting(t *testing.T) {
	cfg := fastConfig()
	cfg.SettleDelay = time.Hour
	cfg.WaitForReady = true
	s, d, _ := newTestSession(t, cfg)

	var joins recorder[int]
	s.Room.RegisterAutoJoin(func() { joins.add(1) })

	require.NoError(t, s.Connect(context.Background()))
	assert.Zero(t, joins.len())

	d.Last().Push(protocol.EventConnected, protocol.Greeting{Message: "ready"})
	assert.Equal(t, 1, joins.len())

	d.Last().Push(protocol.EventConnected, protocol.Greeting{Message: "ready again"})
	assert.Equal(t, 1, joins.len())
}

func TestAutoJoinCanBeCleared(t *testing.T) {
	s, _, _ := newTestSession(t, fastConfig())
	var joins recorder[int]
	s.Room.RegisterAutoJoin(func() { joins.add(1) })
	s.Room.RegisterAutoJoin(nil)

	require.NoError(t, s.Connect(context.Background()))
	assert.Never(t, func() bool { return joins.len() > 0 }, 30*time.Millisecond, 5*time.Millisecond)
}

func TestUnknownEventsAreIgnored(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	require.NoError(t, s.Connect(context.Background()))

	assert.True(t, d.Last().Push("typing_indicator", map[string]bool{"on": true}))
	assert.True(t, s.Conn.Connected())
}

func TestDisconnectDuringConnectedNotificationIsDeliveredAfterIt(t *testing.T) {
	s, _, _ := newTestSession(t, fastConfig())

	var states recorder[State]
	s.Conn.OnState(func(st State) {
		if st.Status == StatusConnected {
			done := make(chan struct{})
			go func() {
				s.Disconnect()
				close(done)
			}()
			<-done
		}
		states.add(st)
	})

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StatusDisconnected, s.Conn.Status())
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, statuses(states.all()))
}

func TestLossRightAfterConnectIsReportedInOrder(t *testing.T) {
	s, d, _ := newTestSession(t, fastConfig())
	gone := errors.New("gone")

	var states recorder[State]
	s.Conn.OnState(func(st State) {
		if st.Status == StatusConnected {
			d.Last().Drop(gone)
		}
		states.add(st)
	})

	require.NoError(t, s.Connect(context.Background()))
	require.Eventually(t, func() bool { return states.len() == 3 }, time.Second, 5*time.Millisecond)

	got := states.all()
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, statuses(got))
	assert.ErrorIs(t, got[2].Err, gone)
}
