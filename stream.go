package margin

import "context"

// StreamState is the lifecycle state of a conversation's active exchange.
type StreamState int

const (
	StreamStateIdle      StreamState = iota // No exchange in flight.
	StreamStateSending                      // Request issued, awaiting response status.
	StreamStateStreaming                    // Response body is being read.
	StreamStateFailed                       // Exchange ended in error; see StreamStatus.Err.
)

func (s StreamState) String() string {
	switch s {
	case StreamStateIdle:
		return "idle"
	case StreamStateSending:
		return "sending"
	case StreamStateStreaming:
		return "streaming"
	case StreamStateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StreamStatus is a snapshot of a conversation's stream state. Err is set
// only in StreamStateFailed.
type StreamStatus struct {
	State StreamState
	Err   error
}

// ChunkStream is a pull-based iterator over raw response body chunks.
// Cancellation flows through the context passed to ChatService.Chat.
//
// Next returns the next non-nil chunk in arrival order, io.EOF once the
// backend signals completion, or a transport error. Close releases the
// underlying connection and is safe to call at any point.
type ChunkStream interface {
	Next() ([]byte, error)
	Close() error
}

// ChatRequest is one user turn sent to the backend.
type ChatRequest struct {
	Message string
	Grant   Grant
}

// ChatService opens streamed chat exchanges.
//
// Chat returns *RequestRejectedError when the backend answers with a failure
// status before any body is streamed, and an error wrapping ErrNetwork on
// transport failure.
type ChatService interface {
	Chat(ctx context.Context, req ChatRequest) (ChunkStream, error)
}
