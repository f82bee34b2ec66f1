package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/auth"
	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

// Deps 路由需要的服务
type Deps struct {
	Auth    *auth.Service
	Chat    *chat.Service
	Relay   *relay.Relay
	Hub     *Hub
	Metrics prometheus.Gatherer
	Logger  *zap.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(d.Logger), RequestLogger(d.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": d.Hub.ClientCount()})
	})
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics, promhttp.HandlerOpts{})))
	}
	r.GET("/ws", d.Hub.HandleWS)

	authHandler := &AuthHandler{Service: d.Auth, Logger: d.Logger}
	convHandler := &ConversationHandler{Chat: d.Chat, Relay: d.Relay, Logger: d.Logger}
	requireAuth := RequireAuth(d.Auth, d.Logger)

	api := r.Group("/api/v1")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
		api.GET("/auth/me", requireAuth, authHandler.Me)

		conv := api.Group("/conversations", requireAuth)
		conv.POST("", convHandler.Create)
		conv.GET("", convHandler.List)
		conv.GET("/:id", convHandler.Get)
		conv.PATCH("/:id", convHandler.Update)
		conv.DELETE("/:id", convHandler.Delete)
		conv.POST("/:id/messages", convHandler.SendMessage)
		conv.POST("/:id/messages/stream", convHandler.StreamMessage)
	}

	return r
}
