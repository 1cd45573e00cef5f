package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

// WebSocketDialer 通过 WebSocket 建立 Socket.IO 连接。
type WebSocketDialer struct {
	URL              string
	Path             string
	Header           http.Header
	HandshakeTimeout time.Duration
	Logger           zerolog.Logger
}

// Dial 建立单次连接并完成 Socket.IO 握手。
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	target, err := endpoint(d.URL, d.Path, TransportWebSocket)
	if err != nil {
		return nil, err
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}

	ws, resp, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := open(hctx, TransportWebSocket, &wsIO{conn: ws}, d.Logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// wsIO 每个 WebSocket 文本帧承载一个 Engine.IO 包。
type wsIO struct {
	conn *websocket.Conn
}

func (w *wsIO) read(ctx context.Context) ([]protocol.Packet, error) {
	deadline, _ := ctx.Deadline()
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		// 二进制附件不在聊天协议中使用
		if messageType != websocket.TextMessage {
			continue
		}
		packet, err := protocol.DecodePacket(data)
		if err != nil {
			return nil, err
		}
		return []protocol.Packet{packet}, nil
	}
}

func (w *wsIO) write(ctx context.Context, packets ...protocol.Packet) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeWait)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	for _, p := range packets {
		if err := w.conn.WriteMessage(websocket.TextMessage, p.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (w *wsIO) close() error {
	_ = w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeWait),
	)
	return w.conn.Close()
}
