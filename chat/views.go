package chat

import (
	"time"

	"github.com/KodaTao/gemini-chat-relay/model"
)

type MessageView struct {
	ID             uint       `json:"id"`
	ConversationID string     `json:"conversationId"`
	Role           model.Role `json:"role"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"createdAt"`
}

func NewMessageView(m *model.Message) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

type ConversationView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewConversationView(c *model.Conversation) ConversationView {
	return ConversationView{
		ID:        c.ID,
		UserID:    c.UserID,
		Title:     c.Title,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// ConversationDetail 详情接口带上按创建时间排序的消息
type ConversationDetail struct {
	ConversationView
	Messages []MessageView `json:"messages"`
}

type PaginationMeta struct {
	CurrentPage  int   `json:"currentPage"`
	ItemsPerPage int   `json:"itemsPerPage"`
	TotalItems   int64 `json:"totalItems"`
	HasNextPage  bool  `json:"hasNextPage"`
}

func NewPaginationMeta(page, limit int, total int64) PaginationMeta {
	return PaginationMeta{
		CurrentPage:  page,
		ItemsPerPage: limit,
		TotalItems:   total,
		HasNextPage:  int64(page)*int64(limit) < total,
	}
}

type ConversationPage struct {
	Items []ConversationView `json:"items"`
	Meta  PaginationMeta     `json:"meta"`
}

// SendResult 非流式发送的返回值
type SendResult struct {
	Conversation     ConversationView `json:"conversation"`
	UserMessage      MessageView      `json:"userMessage"`
	AssistantMessage MessageView      `json:"assistantMessage"`
}
