package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/config"
	"github.com/zhouzirui/companion-chat/internal/model/chat"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
)

// FallbackReply 是生成失败时发送给用户的兜底回复。
const FallbackReply = "抱歉，我现在有点累了，请稍后再和我聊天吧。😴"

// Responder 为一轮对话生成流式回复。
type Responder interface {
	Stream(ctx context.Context, c companion.Companion, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// NewResponder 在配置了 Ark 凭证时使用模型，否则使用预设回复。
func NewResponder(ctx context.Context, cfg config.AIConfig, historyLimit int, chunkDelay time.Duration, logger zerolog.Logger) (Responder, error) {
	if !cfg.Enabled() {
		logger.Warn().Msg("ARK credentials missing, using scripted replies")
		return ScriptedResponder{Delay: chunkDelay}, nil
	}

	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewService(ctx, chatModel, historyLimit, logger)
}

func historyMessages(messages []chat.Message, limit int) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if limit > 0 && len(messages) > limit {
		startIdx = len(messages) - limit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
