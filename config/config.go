package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Auth      AuthConfig      `yaml:"auth"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port        int      `yaml:"port"`
	Mode        string   `yaml:"mode"` // debug/test/release
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite/postgres
	Path   string `yaml:"path"`   // sqlite 文件路径
	DSN    string `yaml:"dsn"`    // postgres 连接串
}

type WebSocketConfig struct {
	PingInterval int   `yaml:"ping_interval"`
	PongTimeout  int   `yaml:"pong_timeout"`
	SendBuffer   int   `yaml:"send_buffer"`
	ReadLimit    int64 `yaml:"read_limit"`
}

type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
	BcryptCost    int    `yaml:"bcrypt_cost"`
}

type GeminiConfig struct {
	Provider   string `yaml:"provider"` // openai/langchain
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"` // 仅 openai 兼容接口使用
	MaxRetries int    `yaml:"max_retries"`
	Timeout    int    `yaml:"timeout"` // 单次请求超时（秒），包括流式读取
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json/console
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
)

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        3000,
			Mode:        "release",
			CORSOrigins: []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{Driver: DriverSQLite, Path: "./data.db"},
		WebSocket: WebSocketConfig{
			PingInterval: 30,
			PongTimeout:  10,
			SendBuffer:   256,
			ReadLimit:    64 * 1024,
		},
		Auth: AuthConfig{
			TokenTTLHours: 24,
			BcryptCost:    10,
		},
		Gemini: GeminiConfig{
			Provider:   ProviderOpenAI,
			Model:      "gemini-2.0-flash",
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai/",
			MaxRetries: 2,
			Timeout:    120,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load 从文件加载配置，以默认值为基础覆盖
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWithEnv 读取 .env、可选的配置文件，再用环境变量覆盖。
// 配置文件不存在时退回默认值。
func LoadWithEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case !errors.Is(err, fs.ErrNotExist):
			return nil, err
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖配置项
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	num("PORT", &c.Server.Port)
	str("GIN_MODE", &c.Server.Mode)
	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		c.Server.CORSOrigins = strings.Split(v, ",")
	}
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_PATH", &c.Database.Path)
	str("DATABASE_DSN", &c.Database.DSN)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	num("JWT_TTL_HOURS", &c.Auth.TokenTTLHours)
	str("GEMINI_PROVIDER", &c.Gemini.Provider)
	str("GEMINI_API_KEY", &c.Gemini.APIKey)
	str("GEMINI_MODEL", &c.Gemini.Model)
	str("GEMINI_BASE_URL", &c.Gemini.BaseURL)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
}

// Validate 检查启动服务所需的配置
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.Server.Mode, validation.In("debug", "test", "release")),
	); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	// ping_interval 为 0 表示关闭心跳，此时不检查 pong_timeout
	if err := validation.ValidateStruct(&c.WebSocket,
		validation.Field(&c.WebSocket.PingInterval, validation.Min(0)),
		validation.Field(&c.WebSocket.PongTimeout, validation.When(c.WebSocket.PingInterval > 0, validation.Required, validation.Min(1))),
		validation.Field(&c.WebSocket.SendBuffer, validation.Min(0)),
		validation.Field(&c.WebSocket.ReadLimit, validation.Min(0)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.JWTSecret, validation.Required, validation.Length(16, 0)),
		validation.Field(&c.Auth.TokenTTLHours, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(&c.Gemini,
		validation.Field(&c.Gemini.Provider, validation.Required, validation.In(ProviderOpenAI, ProviderLangChain)),
		validation.Field(&c.Gemini.APIKey, validation.Required),
		validation.Field(&c.Gemini.Model, validation.Required),
	)
}

// Validate 检查数据库配置，migrate 命令只需要这一部分
func (d *DatabaseConfig) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Driver, validation.Required, validation.In(DriverSQLite, DriverPostgres)),
		validation.Field(&d.Path, validation.When(d.Driver == DriverSQLite, validation.Required)),
		validation.Field(&d.DSN, validation.When(d.Driver == DriverPostgres, validation.Required)),
	)
}
