package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/fwojciec/margin"
)

const chunkSize = 4 << 10

// Chat posts the user's message and returns the streamed reply body.
func (c *Client) Chat(ctx context.Context, req margin.ChatRequest) (margin.ChunkStream, error) {
	body, err := json.Marshal(apiChatRequest{Message: req.Message})
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/plain")

	resp, err := c.do(httpReq, req.Grant)
	if err != nil {
		return nil, err
	}
	if !success(resp) {
		defer drain(resp)
		return nil, rejected(resp)
	}
	return newStream(resp.Body), nil
}

// stream implements [margin.ChunkStream] over a response body.
type stream struct {
	body io.ReadCloser
	buf  []byte
	err  error // deferred error from a read that also returned data

	closeOnce sync.Once
	closeErr  error
}

var _ margin.ChunkStream = (*stream)(nil)

func newStream(body io.ReadCloser) *stream {
	return &stream{body: body, buf: make([]byte, chunkSize)}
}

// Next returns the next chunk of the body as it arrives. The returned slice
// is owned by the caller.
func (s *stream) Next() ([]byte, error) {
	for {
		if s.err != nil {
			return nil, s.err
		}
		n, err := s.body.Read(s.buf)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.err = io.EOF
			case isCancelled(err):
				s.err = fmt.Errorf("http: read chat body: %w", err)
			default:
				s.err = fmt.Errorf("http: read chat body: %w: %w", margin.ErrNetwork, err)
			}
		}
		if n > 0 {
			return bytes.Clone(s.buf[:n]), nil
		}
	}
}

// Close releases the connection. Safe to call more than once.
func (s *stream) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.body.Close() })
	return s.closeErr
}
