// Package chat 会话的增删改查和非流式发送，流式转发复用这里的持久化与标题逻辑
package chat

import (
	"context"
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/gemini"
	"github.com/KodaTao/gemini-chat-relay/model"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MessageRequired sendMessage 参数缺失时的固定提示
	MessageRequired = "conversationId and message are required"
)

// Store 会话存储，model.Store 实现了它
type Store interface {
	CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string, offset, limit int) ([]model.Conversation, int64, error)
	FindConversation(ctx context.Context, id string) (*model.Conversation, error)
	FindConversationWithHistory(ctx context.Context, ownerID, conversationID string) (*model.Conversation, []model.Message, error)
	AppendMessage(ctx context.Context, conversationID string, role model.Role, content string) (*model.Message, error)
	Retitle(ctx context.Context, conversationID, title string) error
	TouchUpdatedAt(ctx context.Context, conversationID string) error
	SoftDeleteConversation(ctx context.Context, conversationID string) error
}

type Service struct {
	store  Store
	gen    gemini.Client
	logger *zap.Logger
}

func NewService(store Store, gen gemini.Client, logger *zap.Logger) *Service {
	return &Service{store: store, gen: gen, logger: logger}
}

// SendMessageRequest sendMessage 事件和 REST 发送共用的请求体
type SendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

var notBlank = validation.By(func(value interface{}) error {
	if s, _ := value.(string); strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

func (r SendMessageRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ConversationID, notBlank),
		validation.Field(&r.Message, notBlank),
	)
}

// ListQuery 列表分页参数，未传入时使用默认值；显式传入的值必须在范围内
type ListQuery struct {
	Page  *int `form:"page"`
	Limit *int `form:"limit"`
}

func (q ListQuery) Validate() error {
	return validation.ValidateStruct(&q,
		validation.Field(&q.Page, validation.NilOrNotEmpty, validation.Min(1)),
		validation.Field(&q.Limit, validation.NilOrNotEmpty, validation.Min(1), validation.Max(MaxLimit)),
	)
}

// resolve 返回实际使用的页码和每页条数
func (q ListQuery) resolve() (page, limit int) {
	page, limit = DefaultPage, DefaultLimit
	if q.Page != nil {
		page = *q.Page
	}
	if q.Limit != nil {
		limit = *q.Limit
	}
	return page, limit
}

func validateTitle(title string) error {
	return validation.Validate(title, notBlank, validation.RuneLength(0, 255))
}

// ToHistory 把消息转换成生成接口的历史：user 保持 user，其它角色都作为 model
func ToHistory(messages []model.Message) []gemini.Turn {
	history := make([]gemini.Turn, 0, len(messages))
	for _, m := range messages {
		role := gemini.RoleModel
		if m.Role == model.RoleUser {
			role = gemini.RoleUser
		}
		history = append(history, gemini.Turn{Role: role, Text: m.Content})
	}
	return history
}

// StreamContext 发送前加载的会话快照
type StreamContext struct {
	Conversation *model.Conversation
	Messages     []model.Message
	History      []gemini.Turn
}

// FirstExchange 加载时会话还没有任何消息
func (sc *StreamContext) FirstExchange() bool {
	return len(sc.Messages) == 0
}

// LoadForStreaming 加载属于 userID 的会话和历史，不存在或不属于该用户都返回 NotFound
func (s *Service) LoadForStreaming(ctx context.Context, userID, conversationID string) (*StreamContext, error) {
	conv, messages, err := s.store.FindConversationWithHistory(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return &StreamContext{
		Conversation: conv,
		Messages:     messages,
		History:      ToHistory(messages),
	}, nil
}

func (s *Service) SaveMessage(ctx context.Context, conversationID string, role model.Role, content string) (*model.Message, error) {
	return s.store.AppendMessage(ctx, conversationID, role, content)
}

func (s *Service) CreateConversation(ctx context.Context, userID, title string) (*ConversationView, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	if err := validateTitle(title); err != nil {
		return nil, &domain.ValidationError{Message: "title: " + err.Error()}
	}

	conv, err := s.store.CreateConversation(ctx, userID, title)
	if err != nil {
		return nil, err
	}
	view := NewConversationView(conv)
	return &view, nil
}

func (s *Service) ListConversations(ctx context.Context, userID string, query ListQuery) (*ConversationPage, error) {
	if err := query.Validate(); err != nil {
		return nil, &domain.ValidationError{Message: err.Error()}
	}
	pageNum, limit := query.resolve()

	items, total, err := s.store.ListConversations(ctx, userID, (pageNum-1)*limit, limit)
	if err != nil {
		return nil, err
	}

	page := &ConversationPage{
		Items: make([]ConversationView, 0, len(items)),
		Meta:  NewPaginationMeta(pageNum, limit, total),
	}
	for i := range items {
		page.Items = append(page.Items, NewConversationView(&items[i]))
	}
	return page, nil
}

func (s *Service) GetConversation(ctx context.Context, userID, conversationID string) (*ConversationDetail, error) {
	conv, messages, err := s.store.FindConversationWithHistory(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}

	detail := &ConversationDetail{
		ConversationView: NewConversationView(conv),
		Messages:         make([]MessageView, 0, len(messages)),
	}
	for i := range messages {
		detail.Messages = append(detail.Messages, NewMessageView(&messages[i]))
	}
	return detail, nil
}

// findOwned 区分会话不存在（NotFound）和不属于该用户（Forbidden）
func (s *Service) findOwned(ctx context.Context, userID, conversationID, action string) (*model.Conversation, error) {
	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, &domain.ForbiddenError{Message: "you do not have permission to " + action + " this conversation"}
	}
	return conv, nil
}

func (s *Service) UpdateConversation(ctx context.Context, userID, conversationID, title string) (*ConversationView, error) {
	title = strings.TrimSpace(title)
	if err := validateTitle(title); err != nil {
		return nil, &domain.ValidationError{Message: "title: " + err.Error()}
	}

	if _, err := s.findOwned(ctx, userID, conversationID, "modify"); err != nil {
		return nil, err
	}
	if err := s.store.Retitle(ctx, conversationID, title); err != nil {
		return nil, err
	}

	conv, err := s.store.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	view := NewConversationView(conv)
	return &view, nil
}

func (s *Service) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if _, err := s.findOwned(ctx, userID, conversationID, "delete"); err != nil {
		return err
	}
	return s.store.SoftDeleteConversation(ctx, conversationID)
}

// SendMessage 非流式发送：生成失败时用户消息保留，不回滚
func (s *Service) SendMessage(ctx context.Context, userID string, req SendMessageRequest) (*SendResult, error) {
	if err := req.Validate(); err != nil {
		return nil, &domain.ValidationError{Message: MessageRequired}
	}

	sc, err := s.LoadForStreaming(ctx, userID, req.ConversationID)
	if err != nil {
		return nil, err
	}

	userMsg, err := s.SaveMessage(ctx, req.ConversationID, model.RoleUser, req.Message)
	if err != nil {
		return nil, err
	}

	reply, err := s.gen.GenerateChatOnce(ctx, req.Message, sc.History)
	if err != nil {
		s.logger.Warn("chat generation failed",
			zap.String("conversation_id", req.ConversationID),
			zap.Error(err),
		)
		return nil, err
	}

	assistantMsg, err := s.SaveMessage(ctx, req.ConversationID, model.RoleAssistant, reply)
	if err != nil {
		return nil, err
	}

	if sc.FirstExchange() {
		s.UpdateTitleFromFirstMessage(ctx, req.ConversationID, req.Message)
	}
	if err := s.store.TouchUpdatedAt(ctx, req.ConversationID); err != nil {
		return nil, err
	}

	conv, err := s.store.FindConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	return &SendResult{
		Conversation:     NewConversationView(conv),
		UserMessage:      NewMessageView(userMsg),
		AssistantMessage: NewMessageView(assistantMsg),
	}, nil
}
