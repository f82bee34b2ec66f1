package relay

import (
	"time"

	"github.com/KodaTao/gemini-chat-relay/model"
)

// 事件名
const (
	EventSendMessage  = "sendMessage"
	EventMessageSaved = "messageSaved"
	EventStreamChunk  = "streamChunk"
	EventStreamEnd    = "streamEnd"
	EventStreamError  = "streamError"
)

const (
	MsgUnauthenticated  = "unauthenticated"
	MsgNotFound         = "conversation not found"
	MsgGenerationFailed = "AI response generation failed"
	MsgUnsupportedEvent = "unsupported event"
)

type SavedMessage struct {
	ID        uint      `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func savedMessage(m *model.Message) SavedMessage {
	return SavedMessage{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt}
}

type MessageSavedPayload struct {
	Role    model.Role   `json:"role"`
	Message SavedMessage `json:"message"`
}

type StreamChunkPayload struct {
	Chunk string `json:"chunk"`
}

type StreamEndPayload struct {
	Message SavedMessage `json:"message"`
}

type StreamErrorPayload struct {
	Message string `json:"message"`
}

// Emitter 向客户端发送一个事件。连接关闭后返回错误，调用方忽略即可。
type Emitter interface {
	Emit(event string, payload any) error
}
