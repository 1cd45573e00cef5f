// Package socket 实现聊天协议的服务端：Engine.IO v4 websocket 传输上的 Socket.IO 事件。
package socket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/companion-chat/internal/metrics"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
	"github.com/zhouzirui/companion-chat/internal/protocol"
	"github.com/zhouzirui/companion-chat/internal/service/ai"
	chatservice "github.com/zhouzirui/companion-chat/internal/service/chat"
	"github.com/zhouzirui/companion-chat/pkg/utils"
)

const (
	defaultMaxPayload = 1_000_000
	eventQueueSize    = 16
)

var errPeerGone = errors.New("peer disconnected")

// Options 控制心跳与历史记录长度。
type Options struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	HistoryLimit int
	MaxPayload   int
}

func (o Options) normalized() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 20 * time.Second
	}
	if o.MaxPayload <= 0 {
		o.MaxPayload = defaultMaxPayload
	}
	return o
}

// Handler 处理 /socket.io/ 上的实时聊天连接
type Handler struct {
	companions companion.Store
	store      chatservice.Store
	responder  ai.Responder
	opts       Options
	metrics    *metrics.Server
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
}

// New 创建实时聊天处理器；m 可以为 nil。
func New(companions companion.Store, store chatservice.Store, responder ai.Responder, opts Options, logger zerolog.Logger, m *metrics.Server) *Handler {
	return &Handler{
		companions: companions,
		store:      store,
		responder:  responder,
		opts:       opts.normalized(),
		metrics:    m,
		logger:     logger.With().Str("component", "socket").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 Socket.IO 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/socket.io/", h.handleSocket)
}

// handleSocket 完成握手后并行运行读循环、心跳与事件处理
func (h *Handler) handleSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if query.Get("EIO") != "4" {
		utils.RespondError(w, http.StatusBadRequest, "unsupported protocol version")
		return
	}
	if query.Get("transport") != "websocket" {
		utils.RespondError(w, http.StatusBadRequest, "transport unknown")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}

	p := newPeer(conn, uuid.NewString(), h.logger)
	defer p.close()

	h.metrics.SocketOpened()
	defer h.metrics.SocketClosed()

	if err := h.handshake(p); err != nil {
		p.logger.Debug().Err(err).Msg("handshake failed")
		return
	}
	p.logger.Info().Msg("socket connected")

	events := make(chan protocol.Event, eventQueueSize)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return h.readLoop(ctx, p, events) })
	g.Go(func() error { return h.pingLoop(ctx, p) })
	g.Go(func() error { return h.worker(ctx, p, events) })
	g.Go(func() error {
		<-ctx.Done()
		p.close()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errPeerGone) {
		p.logger.Debug().Err(err).Msg("socket closed with error")
	}
	p.logger.Info().Msg("socket disconnected")
}

// handshake 发送 open 包，等待命名空间连接并回复确认与问候。
func (h *Handler) handshake(p *peer) error {
	open, err := protocol.OpenPacket(protocol.Handshake{
		SID:          p.sid,
		Upgrades:     []string{},
		PingInterval: int(h.opts.PingInterval / time.Millisecond),
		PingTimeout:  int(h.opts.PingTimeout / time.Millisecond),
		MaxPayload:   h.opts.MaxPayload,
	})
	if err != nil {
		return err
	}
	if err := p.write(open); err != nil {
		return err
	}

	p.extendDeadline(h.opts.PingInterval + h.opts.PingTimeout)
	for {
		pkt, err := p.read()
		if err != nil {
			return err
		}
		if pkt.Type == protocol.PacketClose {
			return errPeerGone
		}
		if pkt.Type != protocol.PacketMessage {
			continue
		}

		frame, err := protocol.DecodeFrame(pkt.Data)
		if err != nil {
			return err
		}
		if frame.Type != protocol.FrameConnect {
			return fmt.Errorf("expected namespace connect, got frame %q", frame.Type)
		}
		if frame.Namespace != "" && frame.Namespace != "/" {
			refuse, err := protocol.ConnectErrorPacket("Invalid namespace")
			if err == nil {
				_ = p.write(refuse)
			}
			return fmt.Errorf("unknown namespace %q", frame.Namespace)
		}
		break
	}

	ack, err := protocol.ConnectAckPacket(p.sid)
	if err != nil {
		return err
	}
	if err := p.write(ack); err != nil {
		return err
	}
	return p.emit(protocol.EventConnected, protocol.Greeting{Message: "连接成功！"})
}

// readLoop 读取客户端数据包；任何数据包都会延长读超时。
func (h *Handler) readLoop(ctx context.Context, p *peer, events chan<- protocol.Event) error {
	liveness := h.opts.PingInterval + h.opts.PingTimeout
	for {
		p.extendDeadline(liveness)
		pkt, err := p.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.logger.Debug().Err(err).Msg("read error")
			}
			return errPeerGone
		}

		switch pkt.Type {
		case protocol.PacketClose:
			return errPeerGone
		case protocol.PacketPing:
			if err := p.write(protocol.PongPacket(pkt.Data)); err != nil {
				return err
			}
		case protocol.PacketMessage:
			frame, err := protocol.DecodeFrame(pkt.Data)
			if err != nil {
				p.logger.Warn().Err(err).Msg("malformed frame")
				continue
			}
			switch frame.Type {
			case protocol.FrameDisconnect:
				return errPeerGone
			case protocol.FrameEvent:
				ev, err := frame.Event()
				if err != nil {
					p.logger.Warn().Err(err).Msg("malformed event")
					continue
				}
				select {
				case events <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// pingLoop 定期发送 Engine.IO ping
func (h *Handler) pingLoop(ctx context.Context, p *peer) error {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.write(protocol.PingPacket()); err != nil {
				return err
			}
		}
	}
}

// worker 按到达顺序处理事件，保证同一连接上的回复不会交错。
func (h *Handler) worker(ctx context.Context, p *peer, events <-chan protocol.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			h.metrics.Event(ev.Name)
			if err := h.dispatch(ctx, p, ev); err != nil {
				return err
			}
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, p *peer, ev protocol.Event) error {
	switch ev.Name {
	case protocol.EventJoinChat:
		return h.handleJoin(ctx, p, ev.Payload)
	case protocol.EventSendMessage:
		return h.handleSend(ctx, p, ev.Payload)
	default:
		p.logger.Debug().Str("event", ev.Name).Msg("ignoring unknown event")
		return nil
	}
}
