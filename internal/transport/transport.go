// Package transport 提供 Socket.IO 客户端连接：WebSocket、长轮询以及两者之间的回退。
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

const (
	// TransportWebSocket WebSocket 传输名称
	TransportWebSocket = "websocket"
	// TransportPolling HTTP 长轮询传输名称
	TransportPolling = "polling"

	defaultPath      = "/socket.io/"
	defaultTimeout   = 10 * time.Second
	writeWait        = 10 * time.Second
	closeWait        = time.Second
	eventBufferSize  = 64
	engineIOProtocol = "4"
)

var (
	// ErrClosed 连接已关闭
	ErrClosed = errors.New("transport: connection closed")
	// ErrHandshake 握手失败（open 包或命名空间连接被拒绝）
	ErrHandshake = errors.New("transport: handshake failed")
	// ErrNoTransport 没有可用的传输方式
	ErrNoTransport = errors.New("transport: no transport configured")
)

// Conn 一条已完成 Socket.IO 握手的连接。
//
// Events 按服务器发送顺序投递事件，连接结束后通道被关闭，此时 Err 返回结束原因。
type Conn interface {
	Emit(event string, payload any) error
	Events() <-chan protocol.Event
	Err() error
	Close() error
	Transport() string
}

// Dialer 建立一条新连接。
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// endpoint 构造 Engine.IO 的访问地址。
func endpoint(base, path, transport string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch transport {
	case TransportWebSocket:
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "ws"
		case "https", "wss":
			u.Scheme = "wss"
		default:
			return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	case TransportPolling:
		switch u.Scheme {
		case "http", "ws":
			u.Scheme = "http"
		case "https", "wss":
			u.Scheme = "https"
		default:
			return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
		}
	default:
		return "", fmt.Errorf("unknown transport %q", transport)
	}

	if path == "" {
		path = defaultPath
	}
	u.Path = path

	q := u.Query()
	q.Set("EIO", engineIOProtocol)
	q.Set("transport", transport)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
