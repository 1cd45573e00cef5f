package chat

import (
	"context"

	"github.com/zhouzirui/companion-chat/internal/transport"
)

// Session 一个完整的聊天会话：连接、房间与回复组装器共享同一条连接。
// 可以在同一进程中创建多个互不影响的会话。
type Session struct {
	Conn    *ConnectionManager
	Room    *Room
	Replies *Assembler
}

// NewSession 创建会话，初始为 disconnected。
func NewSession(cfg Config, dialer transport.Dialer, opts ...Option) *Session {
	o := buildOptions(opts)
	conn := NewConnectionManager(cfg, dialer, opts...)
	return &Session{
		Conn:    conn,
		Room:    newRoom(conn, o.logger),
		Replies: newAssembler(conn, o.logger, o.metrics),
	}
}

// Connect 见 ConnectionManager.Connect。
func (s *Session) Connect(ctx context.Context) error {
	return s.Conn.Connect(ctx)
}

// Disconnect 见 ConnectionManager.Disconnect。
func (s *Session) Disconnect() {
	s.Conn.Disconnect()
}

// Join 见 Room.Join。
func (s *Session) Join(companionID int, userID string, sessionID *int) error {
	return s.Room.Join(companionID, userID, sessionID)
}

// Send 见 Room.Send。
func (s *Session) Send(message string, sessionID *int) error {
	return s.Room.Send(message, sessionID)
}

// RemoveAllListeners 移除所有公开回调，内部连线保持不变。
func (s *Session) RemoveAllListeners() {
	s.Conn.RemoveAllListeners()
	s.Room.RemoveAllListeners()
	s.Replies.RemoveAllListeners()
}

// Close 断开连接、清除自动加入并移除所有回调。
func (s *Session) Close() {
	s.Room.RegisterAutoJoin(nil)
	s.Disconnect()
	s.RemoveAllListeners()
}
