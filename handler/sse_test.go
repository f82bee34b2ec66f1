package handler

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodaTao/gemini-chat-relay/gemini/geminitest"
	"github.com/KodaTao/gemini-chat-relay/relay"
)

type sseEvent struct {
	Event string
	Data  string
}

func parseSSE(t *testing.T, body string) []sseEvent {
	t.Helper()
	var events []sseEvent
	var cur sseEvent
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.Event != "":
			events = append(events, cur)
			cur = sseEvent{}
		}
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestStreamMessageSSE(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{Chunks: []string{"A", "B", "C"}, Title: "Letters"})
	token, _ := env.register(t, "alice@example.com")
	convID := env.createConversation(t, token)

	w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages/stream", token, map[string]string{"message": "abc?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	names := make([]string, 0, len(events))
	var chunks strings.Builder
	for _, e := range events {
		names = append(names, e.Event)
		if e.Event == relay.EventStreamChunk {
			var p relay.StreamChunkPayload
			require.NoError(t, json.Unmarshal([]byte(e.Data), &p))
			chunks.WriteString(p.Chunk)
		}
	}
	assert.Equal(t, []string{
		relay.EventMessageSaved,
		relay.EventStreamChunk,
		relay.EventStreamChunk,
		relay.EventStreamChunk,
		relay.EventStreamEnd,
	}, names)

	var end relay.StreamEndPayload
	require.NoError(t, json.Unmarshal([]byte(events[len(events)-1].Data), &end))
	assert.Equal(t, chunks.String(), end.Message.Content)
}

func TestStreamMessageSSEErrors(t *testing.T) {
	env := newTestEnv(t, &geminitest.Client{Chunks: []string{"partial"}, StreamErr: geminitest.Failure("boom")})
	token, _ := env.register(t, "alice@example.com")
	convID := env.createConversation(t, token)

	t.Run("unauthenticated is rejected before streaming", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages/stream", "", map[string]string{"message": "hi"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("blank message", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages/stream", token, map[string]string{"message": ""})
		events := parseSSE(t, w.Body.String())
		require.Len(t, events, 1)
		assert.Equal(t, relay.EventStreamError, events[0].Event)
	})

	t.Run("generation failure after a chunk", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/v1/conversations/"+convID+"/messages/stream", token, map[string]string{"message": "hi"})
		events := parseSSE(t, w.Body.String())
		require.Len(t, events, 3)
		assert.Equal(t, relay.EventMessageSaved, events[0].Event)
		assert.Equal(t, relay.EventStreamChunk, events[1].Event)
		assert.Equal(t, relay.EventStreamError, events[2].Event)
		assert.JSONEq(t, `{"message":"boom"}`, events[2].Data)
	})
}
