package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/auth"
	"github.com/KodaTao/gemini-chat-relay/domain"
)

const identityKey = "identity"

// RequestLogger 用 zap 记录每个请求
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// Recovery panic 转为 500 错误响应
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic recovered",
					zap.Any("panic", p),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
					StatusCode: http.StatusInternalServerError,
					Message:    "internal server error",
					Error:      http.StatusText(http.StatusInternalServerError),
					Timestamp:  timestamp(),
					Path:       c.Request.URL.Path,
				})
			}
		}()
		c.Next()
	}
}

// RequireAuth 校验 Authorization: Bearer 令牌，把身份放进 context
func RequireAuth(verifier auth.Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			respondError(c, logger, &domain.UnauthorizedError{Message: "missing bearer token"})
			return
		}

		identity, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			respondError(c, logger, err)
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

func currentIdentity(c *gin.Context) *auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := v.(*auth.Identity)
	return identity
}
