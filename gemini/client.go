// Package gemini 封装文本生成服务：单次生成、带历史的流式对话和非流式对话
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/config"
	"github.com/KodaTao/gemini-chat-relay/domain"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn 一轮对话，Role 为 user 或 model
type Turn struct {
	Role string
	Text string
}

// Stream 惰性、有限、不可重启的文本片段序列。
// Next 返回 false 且 Err 为 nil 表示正常结束；失败时 Err 返回 *domain.GenerationError，
// 已经产出的片段不会被撤回。
type Stream interface {
	Next() bool
	Chunk() string
	Err() error
	Close() error
}

type Client interface {
	GenerateOnce(ctx context.Context, prompt string) (string, error)
	StreamChat(ctx context.Context, prompt string, history []Turn) Stream
	GenerateChatOnce(ctx context.Context, prompt string, history []Turn) (string, error)
}

// NewClient 按 provider 选择后端
func NewClient(cfg config.GeminiConfig, logger *zap.Logger) (Client, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return newOpenAIClient(cfg, logger), nil
	case config.ProviderLangChain:
		c, err := newLangChainClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported gemini provider: %s", cfg.Provider)
	}
}

// Drain 读完整个流并拼接，结束后关闭流
func Drain(s Stream) (string, error) {
	defer s.Close()

	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.Chunk())
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// withPrompt 把本次提示作为最后一轮 user 追加到历史之后，不修改传入的切片
func withPrompt(history []Turn, prompt string) []Turn {
	turns := make([]Turn, 0, len(history)+1)
	turns = append(turns, history...)
	return append(turns, Turn{Role: RoleUser, Text: prompt})
}

func generationError(message string, err error) error {
	var gen *domain.GenerationError
	if errors.As(err, &gen) {
		return err
	}
	return &domain.GenerationError{Message: message, Err: err}
}

const (
	errGenerateContent = "failed to generate content from Gemini API"
	errStreamChat      = "failed to send chat message to Gemini API"
	errChatResponse    = "failed to generate chat response from Gemini API"
)

// generateChatOnce 两个后端共用：非流式对话就是把流读完
func generateChatOnce(ctx context.Context, c Client, prompt string, history []Turn) (string, error) {
	text, err := Drain(c.StreamChat(ctx, prompt, history))
	if err != nil {
		var gen *domain.GenerationError
		if errors.As(err, &gen) {
			err = gen.Err
		}
		return "", &domain.GenerationError{Message: errChatResponse, Err: err}
	}
	return text, nil
}
