package gemini

import (
	"context"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/config"
)

// openAIClient 通过 Gemini 的 OpenAI 兼容接口调用模型
type openAIClient struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

func newOpenAIClient(cfg config.GeminiConfig, logger *zap.Logger) *openAIClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(cfg.Timeout)*time.Second))
	}

	return &openAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

func (c *openAIClient) GenerateOnce(ctx context.Context, prompt string) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		c.logger.Warn("gemini generate failed", zap.Error(err))
		return "", generationError(errGenerateContent, err)
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return completion.Choices[0].Message.Content, nil
}

func (c *openAIClient) StreamChat(ctx context.Context, prompt string, history []Turn) Stream {
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toOpenAIMessages(withPrompt(history, prompt)),
	})
	return &openAIStream{src: stream, logger: c.logger}
}

func (c *openAIClient) GenerateChatOnce(ctx context.Context, prompt string, history []Turn) (string, error) {
	return generateChatOnce(ctx, c, prompt, history)
}

func toOpenAIMessages(turns []Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		if t.Role == RoleUser {
			messages = append(messages, openai.UserMessage(t.Text))
		} else {
			messages = append(messages, openai.AssistantMessage(t.Text))
		}
	}
	return messages
}

// chunkSource ssestream.Stream[openai.ChatCompletionChunk] 的子集
type chunkSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

// openAIStream 把 SSE chunk 展平为文本片段，跳过空片段
type openAIStream struct {
	src     chunkSource
	pending []string
	current string
	done    bool
	err     error
	logger  *zap.Logger
}

func (s *openAIStream) Next() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		if !s.src.Next() {
			s.done = true
			if err := s.src.Err(); err != nil {
				s.logger.Warn("gemini stream failed", zap.Error(err))
				s.err = generationError(errStreamChat, err)
			}
			return false
		}
		for _, choice := range s.src.Current().Choices {
			if choice.Delta.Content != "" {
				s.pending = append(s.pending, choice.Delta.Content)
			}
		}
	}
	s.current, s.pending = s.pending[0], s.pending[1:]
	return true
}

func (s *openAIStream) Chunk() string { return s.current }

func (s *openAIStream) Err() error { return s.err }

func (s *openAIStream) Close() error { return s.src.Close() }
