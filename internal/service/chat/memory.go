package chat

import (
	"context"
	"sync"
	"time"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
)

// MemoryStore 在进程内保存会话，重启后数据丢失。
type MemoryStore struct {
	mu        sync.RWMutex
	nextID    int
	nextMsgID int64
	sessions  map[int]chat.Session
	messages  map[int][]chat.Message
}

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int]chat.Session),
		messages: make(map[int][]chat.Message),
	}
}

// CreateSession provisions a session bound to a companion.
func (s *MemoryStore) CreateSession(_ context.Context, companionID int, userID string) (chat.Session, error) {
	if companionID <= 0 {
		return chat.Session{}, ErrCompanionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	session := chat.Session{
		ID:          s.nextID,
		CompanionID: companionID,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
	}
	s.sessions[session.ID] = session
	s.messages[session.ID] = make([]chat.Message, 0, 16)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID int) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// SaveMessage appends a message to the session history.
func (s *MemoryStore) SaveMessage(_ context.Context, message chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[message.SessionID]; !ok {
		return chat.Message{}, ErrSessionNotFound
	}

	s.nextMsgID++
	message.ID = s.nextMsgID
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	return message, nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *MemoryStore) LoadTranscript(_ context.Context, sessionID int, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return tail(messages, limit), nil
}
