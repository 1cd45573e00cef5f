package socket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
	"github.com/zhouzirui/companion-chat/internal/protocol"
)

const writeWait = 10 * time.Second

// peer 是一个已升级的客户端连接。joined 之后的字段只由 worker 访问。
type peer struct {
	conn    *websocket.Conn
	sid     string
	logger  zerolog.Logger
	writeMu sync.Mutex
	once    sync.Once

	joined    bool
	companion companion.Companion
	session   chat.Session
}

func newPeer(conn *websocket.Conn, sid string, logger zerolog.Logger) *peer {
	return &peer{
		conn:   conn,
		sid:    sid,
		logger: logger.With().Str("sid", sid).Logger(),
	}
}

func (p *peer) read() (protocol.Packet, error) {
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			return protocol.Packet{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return protocol.DecodePacket(data)
	}
}

func (p *peer) extendDeadline(d time.Duration) {
	_ = p.conn.SetReadDeadline(time.Now().Add(d))
}

func (p *peer) write(packets ...protocol.Packet) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := p.conn.WriteMessage(websocket.TextMessage, pkt.Encode()); err != nil {
			return err
		}
	}
	return nil
}

func (p *peer) emit(name string, payload any) error {
	pkt, err := protocol.EncodeEvent(name, payload)
	if err != nil {
		return err
	}
	return p.write(pkt)
}

func (p *peer) close() {
	p.once.Do(func() {
		_ = p.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = p.conn.Close()
	})
}
