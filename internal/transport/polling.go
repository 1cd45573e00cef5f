package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

// PollingDialer 通过 HTTP 长轮询建立 Socket.IO 连接，用于 WebSocket 不可用的网络环境。
type PollingDialer struct {
	URL     string
	Path    string
	Header  http.Header
	Timeout time.Duration
	Logger  zerolog.Logger

	// Client 可选，测试时注入。
	Client *resty.Client
}

// Dial 建立单次连接并完成 Socket.IO 握手。
func (d *PollingDialer) Dial(ctx context.Context) (Conn, error) {
	target, err := endpoint(d.URL, d.Path, TransportPolling)
	if err != nil {
		return nil, err
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := d.Client
	if client == nil {
		client = resty.New()
	}

	pio := &pollIO{
		client:  client,
		target:  target,
		header:  d.Header,
		timeout: timeout,
	}

	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := open(hctx, TransportPolling, pio, d.Logger)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// pollIO 每次 GET 取回一批包，每次 POST 发送一批包。
type pollIO struct {
	client  *resty.Client
	target  string
	header  http.Header
	timeout time.Duration

	mu  sync.Mutex
	sid string
}

func (p *pollIO) request(ctx context.Context) *resty.Request {
	req := p.client.R().
		SetContext(ctx).
		SetHeaderMultiValues(p.header).
		SetQueryParam("t", strconv.FormatInt(time.Now().UnixNano(), 36))

	p.mu.Lock()
	sid := p.sid
	p.mu.Unlock()
	if sid != "" {
		req.SetQueryParam("sid", sid)
	}
	return req
}

func (p *pollIO) read(ctx context.Context) ([]protocol.Packet, error) {
	resp, err := p.request(ctx).Get(p.target)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("poll: unexpected status %d: %s", resp.StatusCode(), resp.String())
	}

	packets, err := protocol.DecodePayload(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}

	if len(packets) > 0 && packets[0].Type == protocol.PacketOpen {
		var hs protocol.Handshake
		if err := json.Unmarshal(packets[0].Data, &hs); err != nil {
			return nil, fmt.Errorf("poll: decode open packet: %w", err)
		}
		p.mu.Lock()
		p.sid = hs.SID
		p.mu.Unlock()
	}
	return packets, nil
}

func (p *pollIO) write(ctx context.Context, packets ...protocol.Packet) error {
	resp, err := p.request(ctx).
		SetHeader("Content-Type", "text/plain;charset=UTF-8").
		SetBody(protocol.EncodePayload(packets...)).
		Post(p.target)
	if err != nil {
		return fmt.Errorf("poll write: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("poll write: unexpected status %d", resp.StatusCode())
	}
	return nil
}

func (p *pollIO) close() error {
	return nil
}
