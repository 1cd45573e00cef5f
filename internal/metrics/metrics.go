// Package metrics 定义聊天客户端与参考服务端的 Prometheus 指标。
//
// 所有方法都允许在 nil 接收者上调用，未配置指标时即为空操作。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector 客户端会话指标
type Collector struct {
	ConnectAttempts  prometheus.Counter
	Connections      *prometheus.CounterVec
	Disconnects      prometheus.Counter
	StreamsStarted   prometheus.Counter
	StreamsCompleted prometheus.Counter
	StreamsAbandoned prometheus.Counter
	Chunks           prometheus.Counter
	DroppedCommands  *prometheus.CounterVec
	ProtocolErrors   prometheus.Counter
}

// New 创建客户端指标并注册到 reg；reg 为 nil 时只创建不注册。
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		ConnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_connect_attempts_total",
			Help: "Total number of transport dial attempts",
		}),
		Connections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_client_connections_total",
			Help: "Total number of established connections",
		}, []string{"transport"}),
		Disconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_disconnects_total",
			Help: "Total number of connections that ended",
		}),
		StreamsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_streams_started_total",
			Help: "Total number of streamed replies started",
		}),
		StreamsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_streams_completed_total",
			Help: "Total number of streamed replies completed",
		}),
		StreamsAbandoned: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_streams_abandoned_total",
			Help: "Total number of streamed replies discarded before completion",
		}),
		Chunks: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_chunks_total",
			Help: "Total number of reply fragments accepted",
		}),
		DroppedCommands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_client_dropped_commands_total",
			Help: "Total number of commands dropped while not connected",
		}, []string{"event"}),
		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "chat_client_protocol_errors_total",
			Help: "Total number of error events received from the server",
		}),
	}
}

func (c *Collector) ConnectAttempt() {
	if c == nil {
		return
	}
	c.ConnectAttempts.Inc()
}

func (c *Collector) Connected(transport string) {
	if c == nil {
		return
	}
	c.Connections.WithLabelValues(transport).Inc()
}

func (c *Collector) Disconnected() {
	if c == nil {
		return
	}
	c.Disconnects.Inc()
}

func (c *Collector) StreamStarted() {
	if c == nil {
		return
	}
	c.StreamsStarted.Inc()
}

func (c *Collector) StreamCompleted() {
	if c == nil {
		return
	}
	c.StreamsCompleted.Inc()
}

func (c *Collector) StreamAbandoned() {
	if c == nil {
		return
	}
	c.StreamsAbandoned.Inc()
}

func (c *Collector) Chunk() {
	if c == nil {
		return
	}
	c.Chunks.Inc()
}

func (c *Collector) CommandDropped(event string) {
	if c == nil {
		return
	}
	c.DroppedCommands.WithLabelValues(event).Inc()
}

func (c *Collector) ProtocolError() {
	if c == nil {
		return
	}
	c.ProtocolErrors.Inc()
}

// Server 参考服务端指标
type Server struct {
	ActiveSockets prometheus.Gauge
	Events        *prometheus.CounterVec
	Replies       *prometheus.CounterVec
}

// NewServer 创建服务端指标并注册到 reg。
func NewServer(reg prometheus.Registerer) *Server {
	f := promauto.With(reg)
	return &Server{
		ActiveSockets: f.NewGauge(prometheus.GaugeOpts{
			Name: "chat_server_active_sockets",
			Help: "Number of open socket connections",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_server_events_total",
			Help: "Total number of inbound events by name",
		}, []string{"event"}),
		Replies: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chat_server_replies_total",
			Help: "Total number of generated replies by outcome",
		}, []string{"outcome"}),
	}
}

func (s *Server) SocketOpened() {
	if s == nil {
		return
	}
	s.ActiveSockets.Inc()
}

func (s *Server) SocketClosed() {
	if s == nil {
		return
	}
	s.ActiveSockets.Dec()
}

func (s *Server) Event(name string) {
	if s == nil {
		return
	}
	s.Events.WithLabelValues(name).Inc()
}

func (s *Server) Reply(outcome string) {
	if s == nil {
		return
	}
	s.Replies.WithLabelValues(outcome).Inc()
}
