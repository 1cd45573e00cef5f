package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

// packetIO 在一种具体传输上收发 Engine.IO 包。
// read 只会被单个 goroutine 调用；write 由 engineConn 串行化。
type packetIO interface {
	read(ctx context.Context) ([]protocol.Packet, error)
	write(ctx context.Context, packets ...protocol.Packet) error
	close() error
}

// engineConn 在 packetIO 之上实现 Socket.IO 会话：握手、心跳应答与事件分发。
type engineConn struct {
	name      string
	io        packetIO
	logger    zerolog.Logger
	handshake protocol.Handshake
	backlog   []protocol.Packet
	events    chan protocol.Event

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

// open 完成握手并启动读循环。握手失败时关闭底层传输。
func open(ctx context.Context, name string, pio packetIO, logger zerolog.Logger) (*engineConn, error) {
	c := &engineConn{
		name:   name,
		io:     pio,
		logger: logger.With().Str("transport", name).Logger(),
		events: make(chan protocol.Event, eventBufferSize),
	}

	if err := c.negotiate(ctx); err != nil {
		_ = pio.close()
		return nil, err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.logger.Debug().Str("sid", c.handshake.SID).Msg("socket.io session established")
	go c.readLoop()
	return c, nil
}

// negotiate 读取 open 包，加入默认命名空间并等待确认。
func (c *engineConn) negotiate(ctx context.Context) error {
	packets, err := c.io.read(ctx)
	if err != nil {
		return fmt.Errorf("%w: read open packet: %w", ErrHandshake, err)
	}
	if len(packets) == 0 || packets[0].Type != protocol.PacketOpen {
		return fmt.Errorf("%w: expected open packet", ErrHandshake)
	}
	if err := json.Unmarshal(packets[0].Data, &c.handshake); err != nil {
		return fmt.Errorf("%w: decode open packet: %w", ErrHandshake, err)
	}

	if err := c.io.write(ctx, protocol.ConnectPacket()); err != nil {
		return fmt.Errorf("%w: send connect: %w", ErrHandshake, err)
	}

	pending := packets[1:]
	for {
		for i, p := range pending {
			switch p.Type {
			case protocol.PacketPing:
				if err := c.io.write(ctx, protocol.PongPacket(p.Data)); err != nil {
					return fmt.Errorf("%w: answer ping: %w", ErrHandshake, err)
				}
			case protocol.PacketClose:
				return fmt.Errorf("%w: closed by server", ErrHandshake)
			case protocol.PacketMessage:
				frame, err := protocol.DecodeFrame(p.Data)
				if err != nil {
					c.logger.Warn().Err(err).Msg("ignoring malformed frame during handshake")
					continue
				}
				switch frame.Type {
				case protocol.FrameConnect:
					c.backlog = append(c.backlog, pending[i+1:]...)
					return nil
				case protocol.FrameConnectError:
					var refused protocol.ConnectError
					_ = json.Unmarshal(frame.Data, &refused)
					return fmt.Errorf("%w: %s", ErrHandshake, refused.Message)
				}
			}
		}

		pending, err = c.io.read(ctx)
		if err != nil {
			return fmt.Errorf("%w: await connect ack: %w", ErrHandshake, err)
		}
	}
}

// readContext 为一次读取设置存活期限（pingInterval + pingTimeout）。
func (c *engineConn) readContext() (context.Context, context.CancelFunc) {
	if d := c.handshake.Liveness(); d > 0 {
		return context.WithTimeout(c.ctx, d)
	}
	return context.WithCancel(c.ctx)
}

func (c *engineConn) readLoop() {
	defer close(c.events)

	pending := c.backlog
	c.backlog = nil
	for {
		if !c.process(pending) {
			return
		}
		ctx, cancel := c.readContext()
		packets, err := c.io.read(ctx)
		cancel()
		if err != nil {
			c.fail(err)
			return
		}
		pending = packets
	}
}

// process 处理一批包，返回 false 表示连接已结束。
func (c *engineConn) process(packets []protocol.Packet) bool {
	for _, p := range packets {
		switch p.Type {
		case protocol.PacketPing:
			if err := c.write(protocol.PongPacket(p.Data)); err != nil {
				c.fail(err)
				return false
			}
		case protocol.PacketClose:
			c.fail(fmt.Errorf("%w: closed by server", ErrClosed))
			return false
		case protocol.PacketMessage:
			frame, err := protocol.DecodeFrame(p.Data)
			if err != nil {
				c.logger.Warn().Err(err).Msg("ignoring malformed frame")
				continue
			}
			switch frame.Type {
			case protocol.FrameEvent:
				ev, err := frame.Event()
				if err != nil {
					c.logger.Warn().Err(err).Msg("ignoring malformed event")
					continue
				}
				select {
				case c.events <- ev:
				case <-c.ctx.Done():
					c.fail(ErrClosed)
					return false
				}
			case protocol.FrameDisconnect:
				c.fail(fmt.Errorf("%w: disconnected by server", ErrClosed))
				return false
			}
		}
	}
	return true
}

func (c *engineConn) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return
	}
	if c.closed {
		c.err = ErrClosed
		return
	}
	c.err = err
}

func (c *engineConn) write(packets ...protocol.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return c.io.write(ctx, packets...)
}

// Emit 发送一个事件。
func (c *engineConn) Emit(event string, payload any) error {
	c.mu.Lock()
	closed := c.closed || c.err != nil
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	packet, err := protocol.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	if err := c.write(packet); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Events 返回入站事件通道。
func (c *engineConn) Events() <-chan protocol.Event {
	return c.events
}

// Err 返回连接结束的原因，连接仍存活时为 nil。
func (c *engineConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Transport 返回底层传输名称。
func (c *engineConn) Transport() string {
	return c.name
}

// Close 离开命名空间并关闭底层传输，可重复调用。
func (c *engineConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	alive := c.err == nil
	c.mu.Unlock()

	c.cancel()
	if alive {
		c.writeMu.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), closeWait)
		if err := c.io.write(ctx, protocol.DisconnectPacket(), protocol.ClosePacket()); err != nil {
			c.logger.Debug().Err(err).Msg("failed to send close packets")
		}
		cancel()
		c.writeMu.Unlock()
	}
	return c.io.close()
}
