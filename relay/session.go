package relay

import (
	"errors"
	"sync"

	"github.com/KodaTao/gemini-chat-relay/auth"
)

var ErrAlreadyBound = errors.New("session identity already bound")

// Session 单个连接的状态。身份只在握手时绑定一次，之后只读。
type Session struct {
	ID string

	mu       sync.RWMutex
	identity *auth.Identity
}

func NewSession(id string) *Session {
	return &Session{ID: id}
}

func (s *Session) Bind(identity *auth.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return ErrAlreadyBound
	}
	s.identity = identity
	return nil
}

// Identity 未认证时返回 nil
func (s *Session) Identity() *auth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}
