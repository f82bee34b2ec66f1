// Package geminitest 提供测试用的生成客户端
package geminitest

import (
	"context"
	"sync"

	"github.com/KodaTao/gemini-chat-relay/domain"
	"github.com/KodaTao/gemini-chat-relay/gemini"
)

// StreamCall 记录一次 StreamChat 调用
type StreamCall struct {
	Prompt  string
	History []gemini.Turn
	Stream  *SliceStream
}

// Client 按预设返回固定片段和标题，并记录所有调用
type Client struct {
	Chunks    []string
	StreamErr error // 所有片段之后返回的错误
	Title     string
	TitleErr  error

	mu          sync.Mutex
	prompts     []string
	streamCalls []StreamCall
}

var _ gemini.Client = (*Client)(nil)

func (c *Client) GenerateOnce(_ context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, prompt)
	c.mu.Unlock()

	if c.TitleErr != nil {
		return "", c.TitleErr
	}
	return c.Title, nil
}

func (c *Client) StreamChat(_ context.Context, prompt string, history []gemini.Turn) gemini.Stream {
	stream := &SliceStream{Chunks: c.Chunks, Failure: c.StreamErr}
	c.mu.Lock()
	c.streamCalls = append(c.streamCalls, StreamCall{
		Prompt:  prompt,
		History: append([]gemini.Turn(nil), history...),
		Stream:  stream,
	})
	c.mu.Unlock()

	return stream
}

func (c *Client) GenerateChatOnce(ctx context.Context, prompt string, history []gemini.Turn) (string, error) {
	text, err := gemini.Drain(c.StreamChat(ctx, prompt, history))
	if err != nil {
		return "", err
	}
	return text, nil
}

// Prompts 返回 GenerateOnce 收到的提示
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func (c *Client) StreamCalls() []StreamCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StreamCall(nil), c.streamCalls...)
}

// SliceStream 依次产出 Chunks，然后以 Failure 结束（为 nil 则正常结束）
type SliceStream struct {
	Chunks  []string
	Failure error

	pos     int
	current string
	done    bool
	Closed  bool
}

func (s *SliceStream) Next() bool {
	for s.pos < len(s.Chunks) {
		chunk := s.Chunks[s.pos]
		s.pos++
		if chunk != "" {
			s.current = chunk
			return true
		}
	}
	s.done = true
	return false
}

func (s *SliceStream) Chunk() string { return s.current }

func (s *SliceStream) Err() error {
	if !s.done || s.Failure == nil {
		return nil
	}
	return s.Failure
}

func (s *SliceStream) Close() error {
	s.Closed = true
	return nil
}

// Failure 构造一个生成失败的错误
func Failure(message string) error {
	return &domain.GenerationError{Message: message}
}
