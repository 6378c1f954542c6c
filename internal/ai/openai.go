package ai

import (
	"context"
	"errors"

	"github.com/matheus3301/wabridge/internal/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

const defaultOpenAIModel = "gpt-4o-mini"

// openAIBackend talks to any OpenAI-compatible endpoint through langchaingo.
type openAIBackend struct {
	llm llms.Model
}

func newOpenAI(cfg config.AIConfig) (*openAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithModel(model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, err
	}
	return &openAIBackend{llm: llm}, nil
}

func (b *openAIBackend) complete(ctx context.Context, system string, turns []Turn) (string, error) {
	resp, err := b.llm.GenerateContent(ctx, toLLMMessages(system, turns))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response")
	}
	return resp.Choices[0].Content, nil
}

func toLLMMessages(system string, turns []Turn) []llms.MessageContent {
	msgs := make([]llms.MessageContent, 0, len(turns)+1)
	msgs = append(msgs, textMessage(schema.ChatMessageTypeSystem, system))
	for _, t := range turns {
		role := schema.ChatMessageTypeHuman
		if t.Role == RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		msgs = append(msgs, textMessage(role, t.Text))
	}
	return msgs
}

func textMessage(role schema.ChatMessageType, text string) llms.MessageContent {
	return llms.MessageContent{
		Role:  role,
		Parts: []llms.ContentPart{llms.TextContent{Text: text}},
	}
}
