package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const (
	DefaultTitle   = "New Conversation"
	TitleMaxLength = 50
)

func titlePrompt(message string) string {
	return fmt.Sprintf("Summarize the following user message as a one-line title. "+
		"Reply with the title only, without quotes or explanation, in at most %d characters.\n\nMessage: %s",
		TitleMaxLength, message)
}

// TruncateTitle 按字符截断到 TitleMaxLength 并去掉首尾空白
func TruncateTitle(s string) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) > TitleMaxLength {
		s = strings.TrimSpace(string(runes[:TitleMaxLength]))
	}
	return s
}

// DeriveTitle 生成标题：模型结果 → 截断的原消息 → 默认标题，从不返回错误
func (s *Service) DeriveTitle(ctx context.Context, message string) string {
	generated, err := s.gen.GenerateOnce(ctx, titlePrompt(message))
	if err != nil {
		s.logger.Warn("title generation failed, falling back to message", zap.Error(err))
	} else if title := TruncateTitle(generated); title != "" {
		return title
	}

	if title := TruncateTitle(message); title != "" {
		return title
	}
	return DefaultTitle
}

// UpdateTitleFromFirstMessage 根据首条消息重命名会话。
// 写入失败只记日志，返回最终计算出的标题。
func (s *Service) UpdateTitleFromFirstMessage(ctx context.Context, conversationID, message string) string {
	title := s.DeriveTitle(ctx, message)
	if err := s.store.Retitle(ctx, conversationID, title); err != nil {
		s.logger.Error("retitle conversation failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	return title
}
