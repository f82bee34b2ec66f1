package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/KodaTao/gemini-chat-relay/domain"
)

const conversationNotFound = "conversation not found"

// Store 会话与消息的持久化，软删除的会话不会出现在任何常规查询中
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	conv := &Conversation{UserID: userID, Title: title}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// ListConversations 按 updated_at 倒序分页返回用户的会话及总数
func (s *Store) ListConversations(ctx context.Context, userID string, offset, limit int) ([]Conversation, int64, error) {
	db := s.db.WithContext(ctx).Model(&Conversation{}).Where("user_id = ?", userID).Session(&gorm.Session{})

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	var items []Conversation
	err := db.Order("updated_at DESC").Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return items, total, nil
}

// FindConversation 不做归属过滤，供需要区分 NotFound/Forbidden 的调用方使用
func (s *Store) FindConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

// FindConversationWithHistory 加载属于 ownerID 的会话及其全部消息。
// 会话不存在和不属于该用户都返回 NotFound。
func (s *Store) FindConversationWithHistory(ctx context.Context, ownerID, conversationID string) (*Conversation, []Message, error) {
	db := s.db.WithContext(ctx)

	var conv Conversation
	if err := db.First(&conv, "id = ? AND user_id = ?", conversationID, ownerID).Error; err != nil {
		return nil, nil, notFound(err)
	}

	messages, err := s.listMessages(db, conversationID)
	if err != nil {
		return nil, nil, err
	}
	return &conv, messages, nil
}

func (s *Store) listMessages(db *gorm.DB, conversationID string) ([]Message, error) {
	var messages []Message
	err := db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// AppendMessage 写入一条消息并同步刷新会话的 updated_at，不重复检查归属
func (s *Store) AppendMessage(ctx context.Context, conversationID string, role Role, content string) (*Message, error) {
	msg := &Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", msg.CreatedAt).Error
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// Retitle 修改标题，gorm 会一并刷新 updated_at
func (s *Store) Retitle(ctx context.Context, conversationID, title string) error {
	err := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("title", title).Error
	if err != nil {
		return fmt.Errorf("retitle conversation: %w", err)
	}
	return nil
}

func (s *Store) TouchUpdatedAt(ctx context.Context, conversationID string) error {
	err := s.db.WithContext(ctx).Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// SoftDeleteConversation 只写 deleted_at，行和消息保留
func (s *Store) SoftDeleteConversation(ctx context.Context, conversationID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", conversationID).Delete(&Conversation{})
	if res.Error != nil {
		return fmt.Errorf("delete conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Message: conversationNotFound}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &domain.NotFoundError{Message: conversationNotFound}
	}
	return err
}
