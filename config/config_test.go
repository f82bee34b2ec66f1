package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  cors_origins: ["https://chat.example.com"]
database:
  driver: sqlite
  path: "./test.db"
websocket:
  ping_interval: 15
  pong_timeout: 5
gemini:
  provider: langchain
  model: gemini-1.5-pro
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, 15, cfg.WebSocket.PingInterval)
	assert.Equal(t, 5, cfg.WebSocket.PongTimeout)
	assert.Equal(t, ProviderLangChain, cfg.Gemini.Provider)
	assert.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 256, cfg.WebSocket.SendBuffer)
	assert.Equal(t, 24, cfg.Auth.TokenTTLHours)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "./data.db", cfg.Database.Path)
	assert.Equal(t, 30, cfg.WebSocket.PingInterval)
	assert.Equal(t, 10, cfg.WebSocket.PongTimeout)
	assert.Equal(t, ProviderOpenAI, cfg.Gemini.Provider)
	assert.Equal(t, "gemini-2.0-flash", cfg.Gemini.Model)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadWithEnvMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "key-from-env")

	cfg, err := LoadWithEnv(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "key-from-env", cfg.Gemini.APIKey)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":            "8081",
		"CORS_ORIGINS":    "http://a.test,http://b.test",
		"DATABASE_DRIVER": "postgres",
		"DATABASE_DSN":    "postgres://u:p@localhost/chat",
		"JWT_SECRET":      "0123456789abcdef0123",
		"GEMINI_API_KEY":  "secret",
		"GEMINI_MODEL":    "gemini-exp",
		"LOG_LEVEL":       "warn",
		"JWT_TTL_HOURS":   "not-a-number",
	}
	cfg := Default()
	cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})

	assert.Equal(t, 8081, cfg.Server.Port)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://u:p@localhost/chat", cfg.Database.DSN)
	assert.Equal(t, "0123456789abcdef0123", cfg.Auth.JWTSecret)
	assert.Equal(t, "secret", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-exp", cfg.Gemini.Model)
	assert.Equal(t, "warn", cfg.Log.Level)
	// 非法数字忽略
	assert.Equal(t, 24, cfg.Auth.TokenTTLHours)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.JWTSecret = "0123456789abcdef0123"
		cfg.Gemini.APIKey = "key"
		return cfg
	}

	require.NoError(t, valid().Validate())

	// 关闭心跳时 pong_timeout 可以为 0
	noHeartbeat := valid()
	noHeartbeat.WebSocket.PingInterval = 0
	noHeartbeat.WebSocket.PongTimeout = 0
	require.NoError(t, noHeartbeat.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }},
		{"missing api key", func(c *Config) { c.Gemini.APIKey = "" }},
		{"unknown provider", func(c *Config) { c.Gemini.Provider = "bard" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"negative ping interval", func(c *Config) { c.WebSocket.PingInterval = -1 }},
		{"ping without pong timeout", func(c *Config) { c.WebSocket.PongTimeout = 0 }},
		{"negative pong timeout", func(c *Config) { c.WebSocket.PongTimeout = -3 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
