package gemini

import (
	"context"
	"sync"
)

// pipeStream 把回调式的流式接口转换成拉取式 Stream。
// 生产者在独立 goroutine 中运行，每个片段通过无缓冲 channel 交给读取方。
type pipeStream struct {
	chunks    chan string
	cancel    context.CancelFunc
	err       error
	current   string
	finished  bool
	closeOnce sync.Once
}

// newPipeStream 启动 run；emit 在读取方取走片段或 ctx 结束前阻塞
func newPipeStream(ctx context.Context, run func(ctx context.Context, emit func(string) error) error) *pipeStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &pipeStream{chunks: make(chan string), cancel: cancel}

	go func() {
		defer close(s.chunks)
		s.err = run(ctx, func(chunk string) error {
			if chunk == "" {
				return nil
			}
			select {
			case s.chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	return s
}

func (s *pipeStream) Next() bool {
	if s.finished {
		return false
	}
	chunk, ok := <-s.chunks
	if !ok {
		s.finished = true
		return false
	}
	s.current = chunk
	return true
}

func (s *pipeStream) Chunk() string { return s.current }

// Err 仅在 Next 返回 false 之后有意义
func (s *pipeStream) Err() error {
	if !s.finished {
		return nil
	}
	return s.err
}

// Close 取消生产者，不等待它退出
func (s *pipeStream) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}
