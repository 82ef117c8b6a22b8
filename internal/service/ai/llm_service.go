package ai

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/vision-talk/backend/internal/config"
)

// Service answers chat messages with an Ark chat model instead of the HTTP backend.
type Service struct {
	chain compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new AI service instance
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat model")
	}
	return NewServiceWithModel(ctx, chatModel)
}

// NewServiceWithModel builds the prompt chain around an existing chat model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile chat chain")
	}

	return &Service{chain: runnable}, nil
}

// Chat generates a reply for one user message in the requested language.
func (s *Service) Chat(ctx context.Context, message, language string) (string, error) {
	input := map[string]any{
		"system": BuildSystemPrompt(language),
		"query":  message,
	}

	response, err := s.chain.Invoke(ctx, input)
	if err != nil {
		return "", errors.Wrap(err, "failed to run AI chain")
	}

	log.Debug().Str("component", "ai").Str("language", language).Int("length", len(response.Content)).Msg("generated response")
	return response.Content, nil
}
