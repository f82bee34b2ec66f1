package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/domain"
)

type successBody struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

type errorBody struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, successBody{Success: true, Data: data, Timestamp: timestamp()})
}

// respondError 领域错误按 StatusCode 映射，其余一律 500 且不暴露细节
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var httpErr domain.HTTPError
	if errors.As(err, &httpErr) {
		status = httpErr.StatusCode()
		message = domain.PublicMessage(err, message)
	}

	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Warn("request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, errorBody{
		StatusCode: status,
		Message:    message,
		Error:      http.StatusText(status),
		Timestamp:  timestamp(),
		Path:       c.Request.URL.Path,
	})
}
