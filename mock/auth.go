package mock

import (
	"context"

	"github.com/fwojciec/margin"
)

// Interface compliance check.
var _ margin.AuthService = (*AuthService)(nil)

// AuthService is a test double for margin.AuthService.
// LoginFn, StartDemoFn and MeFn panic when nil to catch missing setup.
// LogoutFn is nil-safe because sign-out is best-effort everywhere.
type AuthService struct {
	LoginFn     func(ctx context.Context, cred margin.Credential) (margin.Grant, error)
	StartDemoFn func(ctx context.Context) (margin.Grant, error)
	MeFn        func(ctx context.Context, grant margin.Grant) (margin.Identity, error)
	LogoutFn    func(ctx context.Context, grant margin.Grant) error
}

// Login delegates to LoginFn.
func (s *AuthService) Login(ctx context.Context, cred margin.Credential) (margin.Grant, error) {
	return s.LoginFn(ctx, cred)
}

// StartDemo delegates to StartDemoFn.
func (s *AuthService) StartDemo(ctx context.Context) (margin.Grant, error) {
	return s.StartDemoFn(ctx)
}

// Me delegates to MeFn.
func (s *AuthService) Me(ctx context.Context, grant margin.Grant) (margin.Identity, error) {
	return s.MeFn(ctx, grant)
}

// Logout delegates to LogoutFn. Returns nil when LogoutFn is not set.
func (s *AuthService) Logout(ctx context.Context, grant margin.Grant) error {
	if s.LogoutFn == nil {
		return nil
	}
	return s.LogoutFn(ctx, grant)
}
