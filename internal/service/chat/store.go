package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
)

var (
	ErrCompanionRequired = errors.New("companion id is required")
	ErrSessionNotFound   = errors.New("session not found")
)

// Store 持久化会话与消息。
type Store interface {
	CreateSession(ctx context.Context, companionID int, userID string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID int) (chat.Session, error)
	// SaveMessage 追加一条消息并返回带 ID 与时间戳的副本。
	SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error)
	// LoadTranscript 按时间顺序返回最近 limit 条消息，limit<=0 返回全部。
	LoadTranscript(ctx context.Context, sessionID int, limit int) ([]chat.Message, error)
}

// OpenSession 恢复已有会话；会话不存在或属于其他伙伴时新建一个。
func OpenSession(ctx context.Context, store Store, companionID int, userID string, sessionID *int) (chat.Session, error) {
	if companionID <= 0 {
		return chat.Session{}, ErrCompanionRequired
	}

	if sessionID != nil {
		session, err := store.GetSession(ctx, *sessionID)
		switch {
		case err == nil && session.CompanionID == companionID:
			return session, nil
		case err != nil && !errors.Is(err, ErrSessionNotFound):
			return chat.Session{}, fmt.Errorf("get session %d: %w", *sessionID, err)
		}
	}

	return store.CreateSession(ctx, companionID, userID)
}

func tail(messages []chat.Message, limit int) []chat.Message {
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	copied := make([]chat.Message, len(messages)-start)
	copy(copied, messages[start:])
	return copied
}
