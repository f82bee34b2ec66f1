package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/KodaTao/gemini-chat-relay/auth"
	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/config"
	"github.com/KodaTao/gemini-chat-relay/gemini/geminitest"
	"github.com/KodaTao/gemini-chat-relay/metrics"
	"github.com/KodaTao/gemini-chat-relay/model"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

type testEnv struct {
	store   *model.Store
	gen     *geminitest.Client
	metrics *metrics.Metrics
	hub     *Hub
	router  *gin.Engine
	server  *httptest.Server
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

type authData struct {
	User        model.User `json:"user"`
	AccessToken string     `json:"accessToken"`
}

func newTestEnv(t *testing.T, gen *geminitest.Client) *testEnv {
	t.Helper()
	return newTestEnvWithWS(t, gen, config.WebSocketConfig{PingInterval: 60, PongTimeout: 10, SendBuffer: 16})
}

func newTestEnvWithWS(t *testing.T, gen *geminitest.Client, wsCfg config.WebSocketConfig) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := model.InitDB(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "handler.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	logger := zap.NewNop()
	store := model.NewStore(db)
	authSvc := auth.NewService(store, auth.NewJWT("handler-test-secret-0123", time.Hour), bcrypt.MinCost, logger)
	chatSvc := chat.NewService(store, gen, logger)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := relay.New(chatSvc, gen, logger, m)
	hub := NewHub(&wsCfg, authSvc, r, logger, m, nil)

	router := NewRouter(Deps{
		Auth:    authSvc,
		Chat:    chatSvc,
		Relay:   r,
		Hub:     hub,
		Metrics: reg,
		Logger:  logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		hub.Shutdown(ctx)
	})

	return &testEnv{store: store, gen: gen, metrics: m, hub: hub, router: router, server: server}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// register 注册用户，返回令牌和用户
func (e *testEnv) register(t *testing.T, email string) (string, model.User) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email":    email,
		"password": "password123",
		"name":     "Tester",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var data authData
	decodeData(t, w, &data)
	return data.AccessToken, data.User
}

// createConversation 通过 REST 创建会话，返回 id
func (e *testEnv) createConversation(t *testing.T, token string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/conversations", token, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var conv chat.ConversationView
	decodeData(t, w, &conv)
	return conv.ID
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.True(t, env.Success, w.Body.String())
	require.NotEmpty(t, env.Timestamp)
	if dst != nil {
		require.NoError(t, json.Unmarshal(env.Data, dst))
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}
