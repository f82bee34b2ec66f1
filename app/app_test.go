package app

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KodaTao/gemini-chat-relay/config"
	"github.com/KodaTao/gemini-chat-relay/gemini/geminitest"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Mode = "test"
	cfg.Database.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Auth.JWTSecret = "app-test-secret-0123456789"
	cfg.Auth.BcryptCost = 4
	cfg.Gemini.APIKey = "test-key"
	return cfg
}

func TestRunServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, cfg.Validate())

	a, err := New(cfg, zap.NewNop(), &geminitest.Client{Chunks: []string{"hi"}})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, ln) }()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	t.Run("cors", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, base+"/health", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "http://localhost:5173")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

		req.Header.Set("Origin", "http://evil.example")
		resp, err = http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("register", func(t *testing.T) {
		body := `{"email":"a@example.com","password":"password123","name":"A"}`
		resp, err := http.Post(base+"/api/v1/auth/register", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusCreated, resp.StatusCode)
	})

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gemini.Provider = "vertex"

	_, err := New(cfg, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "unsupported gemini provider")
}
