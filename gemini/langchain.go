package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/config"
)

// langChainClient 基于 langchaingo 的后端，同样走 OpenAI 兼容接口
type langChainClient struct {
	llm    llms.Model
	logger *zap.Logger
}

func newLangChainClient(cfg config.GeminiConfig, logger *zap.Logger) (*langChainClient, error) {
	opts := []lcopenai.Option{
		lcopenai.WithToken(cfg.APIKey),
		lcopenai.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, lcopenai.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}))
	}

	llm, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchain llm: %w", err)
	}
	return &langChainClient{llm: llm, logger: logger}, nil
}

func (c *langChainClient) GenerateOnce(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt)
	if err != nil {
		c.logger.Warn("gemini generate failed", zap.Error(err))
		return "", generationError(errGenerateContent, err)
	}
	return completion, nil
}

func (c *langChainClient) StreamChat(ctx context.Context, prompt string, history []Turn) Stream {
	messages := toLangChainMessages(withPrompt(history, prompt))

	return newPipeStream(ctx, func(ctx context.Context, emit func(string) error) error {
		_, err := c.llm.GenerateContent(ctx, messages,
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				return emit(string(chunk))
			}),
		)
		if err != nil {
			c.logger.Warn("gemini stream failed", zap.Error(err))
			return generationError(errStreamChat, err)
		}
		return nil
	})
}

func (c *langChainClient) GenerateChatOnce(ctx context.Context, prompt string, history []Turn) (string, error) {
	return generateChatOnce(ctx, c, prompt, history)
}

func toLangChainMessages(turns []Turn) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(turns))
	for _, t := range turns {
		role := llms.ChatMessageTypeAI
		if t.Role == RoleUser {
			role = llms.ChatMessageTypeHuman
		}
		messages = append(messages, llms.TextParts(role, t.Text))
	}
	return messages
}
