package chat

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

// Room 负责加入伙伴会话与发送用户消息。
//
// 未连接时 Join 与 Send 不发送任何内容并返回 nil，调用方应先检查连接状态；
// 不存在离线缓冲。
type Room struct {
	conn   *ConnectionManager
	logger zerolog.Logger

	mu         sync.Mutex
	membership *Membership

	joined   observers[json.RawMessage]
	messages observers[Message]
}

func newRoom(conn *ConnectionManager, logger zerolog.Logger) *Room {
	r := &Room{
		conn:   conn,
		logger: logger.With().Str("component", "room").Logger(),
	}
	conn.handle(protocol.EventChatJoined, r.handleJoined)
	conn.handle(protocol.EventMessageReceived, r.handleMessage)
	conn.hook(r.onState)
	return r
}

// Join 请求加入伙伴会话。sessionID 为 nil 时由服务器新建会话。
func (r *Room) Join(companionID int, userID string, sessionID *int) error {
	req := protocol.JoinChat{
		CompanionID:   companionID,
		UserID:        userID,
		ChatSessionID: copyInt(sessionID),
	}
	gen, sent, err := r.conn.emit(protocol.EventJoinChat, req)
	if err != nil || !sent {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn.current(gen) {
		r.membership = &Membership{
			CompanionID: companionID,
			UserID:      userID,
			SessionID:   copyInt(sessionID),
		}
	}
	r.logger.Debug().Int("companion_id", companionID).Str("user_id", userID).Msg("join requested")
	return nil
}

// Send 发送一条用户消息。
func (r *Room) Send(message string, sessionID *int) error {
	_, _, err := r.conn.emit(protocol.EventSendMessage, protocol.SendMessage{
		Message:   message,
		SessionID: copyInt(sessionID),
	})
	return err
}

// RegisterAutoJoin 设置每次连接建立后执行一次的加入回调，nil 表示清除。
// 只保留一个回调，后注册的覆盖先注册的。
func (r *Room) RegisterAutoJoin(fn func()) {
	r.conn.setAutoJoin(fn)
}

// OnJoined 注册加入确认回调，参数为服务器原样返回的确认内容。
func (r *Room) OnJoined(fn func(json.RawMessage)) *Subscription {
	return r.joined.add(fn)
}

// OnMessage 注册用户消息回显回调。
func (r *Room) OnMessage(fn func(Message)) *Subscription {
	return r.messages.add(fn)
}

// RemoveAllListeners 移除所有公开回调。
func (r *Room) RemoveAllListeners() {
	r.joined.clear()
	r.messages.clear()
}

// Membership 返回当前成员关系。
func (r *Room) Membership() (Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.membership == nil {
		return Membership{}, false
	}
	m := *r.membership
	m.SessionID = copyInt(r.membership.SessionID)
	return m, true
}

func (r *Room) handleJoined(gen uint64, payload json.RawMessage) {
	var ack protocol.ChatJoined
	if err := json.Unmarshal(payload, &ack); err != nil {
		r.logger.Debug().Err(err).Msg("join acknowledgement is not in the usual shape")
	}

	r.mu.Lock()
	if !r.conn.current(gen) {
		r.mu.Unlock()
		return
	}
	if r.membership != nil {
		r.membership.Joined = true
		if ack.ChatSessionID != nil {
			r.membership.SessionID = copyInt(ack.ChatSessionID)
		}
	}
	r.mu.Unlock()

	r.logger.Info().Int("companion_id", ack.CompanionID).Int("history", len(ack.History)).Msg("joined chat")
	r.joined.emit(payload)
}

func (r *Room) handleMessage(gen uint64, payload json.RawMessage) {
	var m protocol.ChatMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		r.logger.Warn().Err(err).Msg("malformed message_received event")
		return
	}
	if !r.conn.current(gen) {
		return
	}
	r.messages.emit(messageFromWire(m))
}

// onState 断开后成员关系失效，重连需要重新加入。
func (r *Room) onState(st State) {
	if st.Status != StatusDisconnected {
		return
	}
	r.mu.Lock()
	r.membership = nil
	r.mu.Unlock()
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
