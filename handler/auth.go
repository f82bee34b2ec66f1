package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/auth"
	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/model"
)

type authResponse struct {
	User        *model.User `json:"user"`
	AccessToken string      `json:"accessToken"`
}

// AuthHandler 处理 /auth 下的注册、登录和当前用户查询
type AuthHandler struct {
	Service *auth.Service
	Logger  *zap.Logger
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.Logger, &domain.ValidationError{Message: "invalid request: " + err.Error()})
		return
	}

	user, token, err := h.Service.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusCreated, authResponse{User: user, AccessToken: token})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.Logger, &domain.ValidationError{Message: "invalid request: " + err.Error()})
		return
	}

	user, token, err := h.Service.Login(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, authResponse{User: user, AccessToken: token})
}

func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.Service.Me(c.Request.Context(), currentIdentity(c).ID)
	if err != nil {
		respondError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, user)
}
