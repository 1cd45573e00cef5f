package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion-chat/internal/model/chat"
	"github.com/zhouzirui/companion-chat/internal/model/companion"
)

// Service streams companion replies from a chat model through an eino chain
type Service struct {
	chain        compose.Runnable[map[string]any, *schema.Message]
	prompts      *PromptManager
	historyLimit int
	logger       zerolog.Logger
}

// NewService compiles the prompt + model chain around chatModel
func NewService(ctx context.Context, chatModel model.BaseChatModel, historyLimit int, logger zerolog.Logger) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chain:        runnable,
		prompts:      NewPromptManager(),
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "ai").Logger(),
	}, nil
}

// Stream streams the reply chunks of the configured chain
func (s *Service) Stream(ctx context.Context, c companion.Companion, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error) {
	input := s.buildChainInput(c, history, userMessage)

	stream, err := s.chain.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}

	s.logger.Debug().Int("companion_id", c.ID).Int("history", len(history)).Msg("streaming reply")
	return stream, nil
}

func (s *Service) buildChainInput(c companion.Companion, history []chat.Message, userMessage string) map[string]any {
	return map[string]any{
		"system":  s.prompts.BuildSystemPrompt(c),
		"history": historyMessages(history, s.historyLimit),
		"query":   userMessage,
	}
}
