package mock

import (
	"context"
	"io"

	"github.com/fwojciec/margin"
)

// Interface compliance checks.
var (
	_ margin.ChatService = (*ChatService)(nil)
	_ margin.ChunkStream = (*ChunkStream)(nil)
)

// ChatService is a test double for margin.ChatService.
// Set ChatFn before calling Chat.
type ChatService struct {
	ChatFn func(ctx context.Context, req margin.ChatRequest) (margin.ChunkStream, error)
}

// Chat delegates to ChatFn.
func (s *ChatService) Chat(ctx context.Context, req margin.ChatRequest) (margin.ChunkStream, error) {
	return s.ChatFn(ctx, req)
}

// ChunkStream is a test double for margin.ChunkStream.
// NextFn panics when nil. CloseFn is nil-safe because callers always
// defer Close.
type ChunkStream struct {
	NextFn  func() ([]byte, error)
	CloseFn func() error
}

// Next delegates to NextFn.
func (s *ChunkStream) Next() ([]byte, error) {
	return s.NextFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *ChunkStream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// Chunks returns a ChunkStream that yields each chunk in order and then
// io.EOF.
func Chunks(chunks ...[]byte) *ChunkStream {
	i := 0
	return &ChunkStream{
		NextFn: func() ([]byte, error) {
			if i >= len(chunks) {
				return nil, io.EOF
			}
			c := chunks[i]
			i++
			return c, nil
		},
	}
}
