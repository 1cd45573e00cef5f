package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounts(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ConnectAttempt()
	c.ConnectAttempt()
	c.Connected("websocket")
	c.StreamStarted()
	c.Chunk()
	c.Chunk()
	c.StreamCompleted()
	c.CommandDropped("send_message")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.ConnectAttempts))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Connections.WithLabelValues("websocket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StreamsStarted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Chunks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StreamsCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DroppedCommands.WithLabelValues("send_message")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConnectAttempt()
		c.Connected("polling")
		c.Disconnected()
		c.StreamStarted()
		c.StreamCompleted()
		c.StreamAbandoned()
		c.Chunk()
		c.CommandDropped("join_chat")
		c.ProtocolError()
	})

	var s *Server
	assert.NotPanics(t, func() {
		s.SocketOpened()
		s.SocketClosed()
		s.Event("join_chat")
		s.Reply("ok")
	})
}

func TestRegistriesAreIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
		NewServer(prometheus.NewRegistry())
	})
}
