package handler

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/gemini-chat-relay/chat"
	"github.com/KodaTao/gemini-chat-relay/gemini/geminitest"
	"github.com/KodaTao/gemini-chat-relay/model"
)

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{})

	w := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "chat_relay_ws_connections")
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{})
	token, user := env.register(t, "alice@example.com")
	assert.NotEmpty(t, token)
	assert.Equal(t, "alice@example.com", user.Email)

	t.Run("me", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/api/v1/auth/me", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var me model.User
		decodeData(t, w, &me)
		assert.Equal(t, user.ID, me.ID)
		assert.NotContains(t, w.Body.String(), "password")
	})

	t.Run("login", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "alice@example.com", "password": "password123",
		})
		require.Equal(t, http.StatusOK, w.Code)
		var data authData
		decodeData(t, w, &data)
		assert.NotEmpty(t, data.AccessToken)
	})

	t.Run("bad password", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "alice@example.com", "password": "wrong-password",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, http.StatusUnauthorized, body.StatusCode)
		assert.Equal(t, "invalid email or password", body.Message)
		assert.Equal(t, "/api/v1/auth/login", body.Path)
		assert.NotEmpty(t, body.Timestamp)
	})

	t.Run("duplicate email", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email": "alice@example.com", "password": "password123", "name": "Again",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"email": "x@example.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestConversationsRequireAuth(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{})

	for _, token := range []string{"", "garbage"} {
		w := env.do(t, http.MethodGet, "/api/v1/conversations", token, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		body := decodeError(t, w)
		assert.Equal(t, "Unauthorized", body.Error)
	}
}

func TestConversationCRUD(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{})
	token, user := env.register(t, "alice@example.com")

	w := env.do(t, http.MethodPost, "/api/v1/conversations", token, map[string]string{"title": "Trip plans"})
	require.Equal(t, http.StatusCreated, w.Code)
	var created chat.ConversationView
	decodeData(t, w, &created)
	assert.Equal(t, "Trip plans", created.Title)
	assert.Equal(t, user.ID, created.UserID)

	untitled := env.createConversation(t, token)

	w = env.do(t, http.MethodGet, "/api/v1/conversations/"+untitled, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail chat.ConversationDetail
	decodeData(t, w, &detail)
	assert.Equal(t, chat.DefaultTitle, detail.Title)
	assert.Empty(t, detail.Messages)

	w = env.do(t, http.MethodPatch, "/api/v1/conversations/"+untitled, token, map[string]string{"title": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	var renamed chat.ConversationView
	decodeData(t, w, &renamed)
	assert.Equal(t, "Renamed", renamed.Title)

	w = env.do(t, http.MethodGet, "/api/v1/conversations?page=1&limit=1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page chat.ConversationPage
	decodeData(t, w, &page)
	require.Len(t, page.Items, 1)
	assert.Equal(t, untitled, page.Items[0].ID, "most recently updated first")
	assert.Equal(t, int64(2), page.Meta.TotalItems)
	assert.True(t, page.Meta.HasNextPage)

	w = env.do(t, http.MethodDelete, "/api/v1/conversations/"+untitled, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decodeData(t, w, nil)

	w = env.do(t, http.MethodGet, "/api/v1/conversations/"+untitled, token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "conversation not found", decodeError(t, w).Message)
}

func TestConversationListValidation(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{})
	token, _ := env.register(t, "alice@example.com")

	for _, query := range []string{"page=0", "limit=0", "limit=101", "page=abc"} {
		w := env.do(t, http.MethodGet, "/api/v1/conversations?"+query, token, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, query)
	}
}

func TestConversationOwnership(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{})
	ownerToken, _ := env.register(t, "owner@example.com")
	otherToken, _ := env.register(t, "other@example.com")
	convID := env.createConversation(t, ownerToken)

	// 读取时不暴露会话是否存在
	w := env.do(t, http.MethodGet, "/api/v1/conversations/"+convID, otherToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/conversations/"+convID, otherToken, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "you do not have permission to modify this conversation", decodeError(t, w).Message)

	w = env.do(t, http.MethodDelete, "/api/v1/conversations/"+convID, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/conversations/missing", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessageEndpoint(t *testing.T) {
	gen := &geminitest.Client{Chunks: []string{"Hel", "lo!"}, Title: "Greeting"}
	env := newTestEnv(t, gen)
	token, _ := env.register(t, "alice@example.com")
	convID := env.createConversation(t, token)

	w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", token, map[string]string{"message": "Hi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res chat.SendResult
	decodeData(t, w, &res)
	assert.Equal(t, "Hi", res.UserMessage.Content)
	assert.Equal(t, model.RoleUser, res.UserMessage.Role)
	assert.Equal(t, "Hello!", res.AssistantMessage.Content)
	assert.Equal(t, model.RoleAssistant, res.AssistantMessage.Role)
	assert.Equal(t, "Greeting", res.Conversation.Title)

	t.Run("blank message", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", token, map[string]string{"message": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, chat.MessageRequired, decodeError(t, w).Message)
	})

	t.Run("generation failure", func(t *testing.T) {
		gen.StreamErr = geminitest.Failure("failed to send chat message to Gemini API")
		w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages", token, map[string]string{"message": "Again"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.True(t, strings.HasPrefix(decodeError(t, w).Message, "failed to"))
	})
}
