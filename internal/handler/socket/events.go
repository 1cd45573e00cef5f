package socket

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
	"github.com/zhouzirui/companion-chat/internal/protocol"
	"github.com/zhouzirui/companion-chat/internal/service/ai"
	chatservice "github.com/zhouzirui/companion-chat/internal/service/chat"
)

// 返回给客户端的提示语。
const (
	msgCompanionRequired = "缺少伙伴ID"
	msgCompanionNotFound = "伙伴不存在"
	msgJoinFailed        = "加入聊天失败"
	msgJoined            = "已加入聊天，可以开始对话了！"
	msgEmptyMessage      = "消息不能为空"
	msgSendFailed        = "消息发送失败"
	msgNotJoined         = "抱歉，无法获取用户信息，请重新连接。"
	defaultUserID        = "anonymous"
)

// echoedMessage 同时携带持久化字段与旧版客户端读取的 message 字段。
type echoedMessage struct {
	protocol.ChatMessage
	Message string `json:"message"`
}

func (h *Handler) handleJoin(ctx context.Context, p *peer, raw json.RawMessage) error {
	var req protocol.JoinChat
	if err := json.Unmarshal(raw, &req); err != nil || req.CompanionID <= 0 {
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgCompanionRequired})
	}

	c, ok := h.companions.FindByID(req.CompanionID)
	if !ok {
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgCompanionNotFound})
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = defaultUserID
	}

	session, err := chatservice.OpenSession(ctx, h.store, c.ID, userID, req.ChatSessionID)
	if err != nil {
		p.logger.Error().Err(err).Int("companion_id", c.ID).Msg("open session failed")
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgJoinFailed})
	}

	transcript, err := h.store.LoadTranscript(ctx, session.ID, h.opts.HistoryLimit)
	if err != nil {
		p.logger.Error().Err(err).Int("session_id", session.ID).Msg("load transcript failed")
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgJoinFailed})
	}

	p.joined = true
	p.companion = c
	p.session = session
	p.logger.Info().Int("companion_id", c.ID).Int("session_id", session.ID).Str("user_id", userID).Msg("joined chat")

	history := make([]protocol.ChatMessage, 0, len(transcript))
	for _, m := range transcript {
		history = append(history, toWire(m))
	}

	sessionID := session.ID
	return p.emit(protocol.EventChatJoined, protocol.ChatJoined{
		CompanionID:   c.ID,
		ChatSessionID: &sessionID,
		Message:       msgJoined,
		History:       history,
	})
}

func (h *Handler) handleSend(ctx context.Context, p *peer, raw json.RawMessage) error {
	var req protocol.SendMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgEmptyMessage})
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgEmptyMessage})
	}

	if !p.joined {
		if err := p.emit(protocol.EventMessageReceived, echoedMessage{
			ChatMessage: protocol.ChatMessage{Role: protocol.RoleUser, Content: text},
			Message:     text,
		}); err != nil {
			return err
		}
		return h.streamStatic(p, msgNotJoined)
	}
	if req.SessionID != nil && *req.SessionID != p.session.ID {
		p.logger.Warn().Int("requested", *req.SessionID).Int("joined", p.session.ID).Msg("session mismatch, using joined session")
	}

	history, err := h.store.LoadTranscript(ctx, p.session.ID, 0)
	if err != nil {
		p.logger.Error().Err(err).Msg("load transcript failed")
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgSendFailed})
	}

	saved, err := h.store.SaveMessage(ctx, chat.Message{SessionID: p.session.ID, Role: chat.RoleUser, Content: text})
	if err != nil {
		p.logger.Error().Err(err).Msg("save user message failed")
		return p.emit(protocol.EventError, protocol.ErrorPayload{Message: msgSendFailed})
	}
	if err := p.emit(protocol.EventMessageReceived, echoedMessage{ChatMessage: toWire(saved), Message: text}); err != nil {
		return err
	}

	reply, err := h.streamReply(ctx, p, history, text)
	if err != nil {
		return err
	}

	if _, err := h.store.SaveMessage(ctx, chat.Message{SessionID: p.session.ID, Role: chat.RoleAssistant, Content: reply}); err != nil {
		p.logger.Error().Err(err).Msg("save assistant message failed")
	}
	return nil
}

// streamReply 发送 response_start、编号的 response_chunk 与 response_end，返回完整回复。
// 生成失败时以兜底回复结束本轮，只有写入失败才返回错误。
func (h *Handler) streamReply(ctx context.Context, p *peer, history []chat.Message, text string) (string, error) {
	if err := p.emit(protocol.EventResponseStart, struct{}{}); err != nil {
		return "", err
	}

	var (
		builder strings.Builder
		seq     int
		failed  bool
	)
	send := func(chunk string) error {
		n := seq
		seq++
		builder.WriteString(chunk)
		return p.emit(protocol.EventResponseChunk, protocol.ResponseChunk{Chunk: chunk, Seq: &n})
	}

	stream, err := h.responder.Stream(ctx, p.companion, history, text)
	if err != nil {
		p.logger.Error().Err(err).Msg("start reply failed")
		failed = true
	} else {
		defer stream.Close()
		for {
			msg, recvErr := stream.Recv()
			if errors.Is(recvErr, io.EOF) {
				break
			}
			if recvErr != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				p.logger.Error().Err(recvErr).Msg("reply stream failed")
				failed = true
				break
			}
			if msg == nil || msg.Content == "" {
				continue
			}
			if err := send(msg.Content); err != nil {
				return "", err
			}
		}
	}

	if failed {
		h.metrics.Reply("failed")
		if err := send(ai.FallbackReply); err != nil {
			return "", err
		}
	} else {
		h.metrics.Reply("completed")
	}

	if err := p.emit(protocol.EventResponseEnd, struct{}{}); err != nil {
		return "", err
	}
	return builder.String(), nil
}

// streamStatic 以单个分片发送固定回复
func (h *Handler) streamStatic(p *peer, text string) error {
	seq := 0
	if err := p.emit(protocol.EventResponseStart, struct{}{}); err != nil {
		return err
	}
	if err := p.emit(protocol.EventResponseChunk, protocol.ResponseChunk{Chunk: text, Seq: &seq}); err != nil {
		return err
	}
	h.metrics.Reply("rejected")
	return p.emit(protocol.EventResponseEnd, struct{}{})
}

func toWire(m chat.Message) protocol.ChatMessage {
	id := m.ID
	return protocol.ChatMessage{
		ID:        &id,
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
