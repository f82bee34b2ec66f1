package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

type createConversationBody struct {
	Title string `json:"title"`
}

type updateConversationBody struct {
	Title string `json:"title" binding:"required"`
}

type sendMessageBody struct {
	Message string `json:"message"`
}

// ConversationHandler 处理 /conversations 下的 REST 接口
type ConversationHandler struct {
	Chat   *chat.Service
	Relay  *relay.Relay
	Logger *zap.Logger
}

func (h *ConversationHandler) Create(c *gin.Context) {
	var body createConversationBody
	// 请求体可以为空
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, h.Logger, &domain.ValidationError{Message: "invalid request: " + err.Error()})
			return
		}
	}

	conv, err := h.Chat.CreateConversation(c.Request.Context(), currentIdentity(c).ID, body.Title)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(c *gin.Context) {
	var query chat.ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		respondError(c, h.Logger, &domain.ValidationError{Message: "invalid query: " + err.Error()})
		return
	}

	page, err := h.Chat.ListConversations(c.Request.Context(), currentIdentity(c).ID, query)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, page)
}

func (h *ConversationHandler) Get(c *gin.Context) {
	detail, err := h.Chat.GetConversation(c.Request.Context(), currentIdentity(c).ID, c.Param("id"))
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, detail)
}

func (h *ConversationHandler) Update(c *gin.Context) {
	var body updateConversationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, h.Logger, &domain.ValidationError{Message: "invalid request: " + err.Error()})
		return
	}

	conv, err := h.Chat.UpdateConversation(c.Request.Context(), currentIdentity(c).ID, c.Param("id"), body.Title)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.Chat.DeleteConversation(c.Request.Context(), currentIdentity(c).ID, c.Param("id")); err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, nil)
}

// SendMessage 非流式发送，生成完成后一次性返回
func (h *ConversationHandler) SendMessage(c *gin.Context) {
	var body sendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, h.Logger, &domain.ValidationError{Message: chat.MessageRequired})
		return
	}

	res, err := h.Chat.SendMessage(c.Request.Context(), currentIdentity(c).ID, chat.SendMessageRequest{
		ConversationID: c.Param("id"),
		Message:        body.Message,
	})
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusCreated, res)
}
