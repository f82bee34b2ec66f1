package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

// sseEmitter 把 relay 事件写成 SSE：event 行是事件名，data 行是 JSON
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEmitter) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// StreamMessage 与 websocket 的 sendMessage 相同的流程，通过 SSE 推送事件
func (h *ConversationHandler) StreamMessage(c *gin.Context) {
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		// 留空交给 relay 校验，统一以 streamError 返回
		h.Logger.Debug("invalid stream request body", zap.Error(err))
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	sess := relay.NewSession(uuid.NewString())
	if identity := currentIdentity(c); identity != nil {
		_ = sess.Bind(identity)
	}

	h.Relay.HandleSendMessage(c.Request.Context(), sess, &sseEmitter{w: c.Writer, flusher: flusher}, chat.SendMessageRequest{
		ConversationID: c.Param("id"),
		Message:        body.Message,
	})
}
