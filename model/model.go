package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/KodaTao/gemini-chat-relay/config"
)

// Role 消息角色，system 为保留值
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type User struct {
	ID           string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Name         string         `gorm:"not null" json:"name"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

type Conversation struct {
	ID        string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    string         `gorm:"type:varchar(36);index;not null" json:"userId"`
	User      User           `gorm:"foreignKey:UserID" json:"-"`
	Title     string         `gorm:"not null" json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// Message 创建后不可修改；同一会话内按 created_at、id 排序
type Message struct {
	ID             uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string       `gorm:"type:varchar(36);not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	Conversation   Conversation `gorm:"foreignKey:ConversationID" json:"-"`
	Role           Role         `gorm:"type:varchar(16);not null" json:"role"`
	Content        string       `gorm:"type:text;not null" json:"content"`
	CreatedAt      time.Time    `gorm:"index:idx_messages_conversation_created,priority:2" json:"createdAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// sqliteDSN 在路径后追加连接参数，路径本身可以已经带有查询参数
func sqliteDSN(path string) string {
	// 多个连接并发写入时等待锁，而不是直接返回 SQLITE_BUSY
	const params = "_busy_timeout=5000&_foreign_keys=on"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// InitDB 打开数据库并自动迁移表结构
func InitDB(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite, "":
		dialector = sqlite.Open(sqliteDSN(cfg.Path))
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(logger),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Driver != config.DriverPostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&User{}, &Conversation{}, &Message{}); err != nil {
		return nil, err
	}

	return db, nil
}
