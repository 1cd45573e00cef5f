// Package chat 实现伙伴聊天的客户端会话：连接管理、房间成员关系以及流式回复的组装。
package chat

import (
	"errors"
	"strconv"
	"time"

	"github.com/zhouzirui/companion-chat/internal/protocol"
)

// ErrConnectAborted 表示连接尚未建立时被 Disconnect 取消。
var ErrConnectAborted = errors.New("chat: connect aborted by disconnect")

// Status 连接状态
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// State 状态通知。Err 非空时说明本次变化（或一次失败的连接尝试）的原因。
type State struct {
	Status Status
	Err    error
}

// Role 消息角色
type Role string

const (
	RoleUser      Role = protocol.RoleUser
	RoleAssistant Role = protocol.RoleAssistant
)

// Message 会话中一条完整的消息。
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Reply 正在组装的助手回复。
type Reply struct {
	ID      string
	Content string
}

// ProtocolError 服务器通过 error 事件报告的错误。
type ProtocolError struct {
	Message string
}

func (e ProtocolError) Error() string {
	return "chat: server error: " + e.Message
}

// Membership 当前加入的伙伴会话。
type Membership struct {
	CompanionID int
	UserID      string
	SessionID   *int
	Joined      bool
}

func messageFromWire(m protocol.ChatMessage) Message {
	msg := Message{
		Role:      Role(m.Role),
		Content:   m.Content,
		Timestamp: parseTimestamp(m.Timestamp),
	}
	if m.ID != nil {
		msg.ID = strconv.FormatInt(*m.ID, 10)
	}
	if msg.Role == "" {
		msg.Role = RoleUser
	}
	return msg
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
