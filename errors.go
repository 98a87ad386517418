package margin

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates input failed validation before any state change.
	ErrValidation = errors.New("validation error")

	// ErrUnauthorized indicates a privileged operation was attempted without
	// an authenticated or demo session. No network call is made.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnauthenticated indicates the backend reports no valid identity.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrInvalidCredential indicates the backend rejected a login.
	ErrInvalidCredential = errors.New("invalid credential")

	// ErrDemoUnavailable indicates the backend declined to start a demo session.
	ErrDemoUnavailable = errors.New("demo unavailable")

	// ErrDemoExpired is attached to a signed-out session whose demo identity
	// failed re-validation.
	ErrDemoExpired = errors.New("demo session expired")

	// ErrNetwork indicates a transport-level failure in any phase.
	ErrNetwork = errors.New("network error")

	// ErrStreamInterrupted indicates the response stream failed after
	// streaming began.
	ErrStreamInterrupted = errors.New("stream interrupted")

	// ErrCancelled indicates the caller abandoned an in-flight exchange.
	ErrCancelled = errors.New("cancelled")

	// ErrAlreadyInProgress indicates a concurrent operation was attempted.
	ErrAlreadyInProgress = errors.New("already in progress")

	// ErrNotReady indicates a chat send was attempted while the conversation
	// cannot accept one.
	ErrNotReady = errors.New("not ready")

	// ErrSessionActive indicates an operation that requires a signed-out
	// session was attempted while signed in.
	ErrSessionActive = errors.New("session already active")

	// ErrNoOpenMessage indicates an append was attempted with no incomplete
	// message in the log.
	ErrNoOpenMessage = errors.New("no open message")

	// ErrOpenMessage indicates a new message was opened while another one is
	// still incomplete.
	ErrOpenMessage = errors.New("message still open")
)

// RequestRejectedError reports a failure status returned by the backend
// before any streaming began.
type RequestRejectedError struct {
	Status int
}

func (e *RequestRejectedError) Error() string {
	return fmt.Sprintf("request rejected: HTTP %d", e.Status)
}
