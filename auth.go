package margin

import "context"

// Credential is the user-supplied login material.
type Credential struct {
	Email    string
	Password string
}

// AuthService is the backend contract consumed by the session manager.
//
// Login returns an error wrapping ErrInvalidCredential when the backend
// rejects the credential. StartDemo returns an error wrapping
// ErrDemoUnavailable when the backend declines. Me returns an error wrapping
// ErrUnauthenticated when the backend reports no valid identity. All methods
// wrap ErrNetwork on transport failure.
type AuthService interface {
	Login(ctx context.Context, cred Credential) (Grant, error)
	StartDemo(ctx context.Context) (Grant, error)
	Me(ctx context.Context, grant Grant) (Identity, error)
	Logout(ctx context.Context, grant Grant) error
}
