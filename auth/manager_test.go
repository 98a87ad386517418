package auth_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fwojciec/margin"
	"github.com/fwojciec/margin/auth"
	"github.com/fwojciec/margin/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var reader = margin.Identity{ID: "42", Email: "reader@example.com", Entitlement: margin.EntitlementSubscriber}

func okLogin(context.Context, margin.Credential) (margin.Grant, error) {
	return margin.Grant{}, nil
}

func okMe(context.Context, margin.Grant) (margin.Identity, error) {
	return reader, nil
}

func TestManager_Authenticate(t *testing.T) {
	t.Parallel()

	t.Run("re-validates identity after login", func(t *testing.T) {
		t.Parallel()
		var meGrant margin.Grant
		svc := &mock.AuthService{
			LoginFn: func(_ context.Context, cred margin.Credential) (margin.Grant, error) {
				assert.Equal(t, "reader@example.com", cred.Email)
				return margin.Grant{Token: "tok"}, nil
			},
			MeFn: func(_ context.Context, g margin.Grant) (margin.Identity, error) {
				meGrant = g
				return reader, nil
			},
		}
		m := auth.New(svc)

		err := m.Authenticate(context.Background(), margin.Credential{Email: "reader@example.com", Password: "pw"})
		require.NoError(t, err)

		s := m.Session()
		assert.Equal(t, margin.SessionAuthenticated, s.State)
		require.NotNil(t, s.Identity)
		assert.Equal(t, reader, *s.Identity)
		assert.Equal(t, margin.Grant{Token: "tok"}, s.Grant)
		assert.Equal(t, margin.Grant{Token: "tok"}, meGrant)
		assert.True(t, margin.CanAccess(s))
	})

	t.Run("wrong password moves to error", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				return margin.Grant{}, fmt.Errorf("login: %w", margin.ErrInvalidCredential)
			},
		}
		m := auth.New(svc)

		err := m.Authenticate(context.Background(), margin.Credential{Email: "a", Password: "wrong"})
		assert.ErrorIs(t, err, margin.ErrInvalidCredential)

		s := m.Session()
		assert.Equal(t, margin.SessionError, s.State)
		assert.ErrorIs(t, s.LastError, margin.ErrInvalidCredential)
		assert.Nil(t, s.Identity)
		assert.False(t, margin.CanAccess(s))
	})

	t.Run("transport failure surfaces network error", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				return margin.Grant{}, fmt.Errorf("dial: %w", margin.ErrNetwork)
			},
		}
		m := auth.New(svc)
		err := m.Authenticate(context.Background(), margin.Credential{})
		assert.ErrorIs(t, err, margin.ErrNetwork)
		assert.Equal(t, margin.SessionError, m.Session().State)
	})

	t.Run("server failure is a network error, not a bad credential", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				return margin.Grant{}, &margin.RequestRejectedError{Status: 502}
			},
		}
		m := auth.New(svc)
		err := m.Authenticate(context.Background(), margin.Credential{})
		assert.ErrorIs(t, err, margin.ErrNetwork)
		assert.NotErrorIs(t, err, margin.ErrInvalidCredential)
		var rejected *margin.RequestRejectedError
		require.ErrorAs(t, err, &rejected)
		assert.Equal(t, 502, rejected.Status)

		s := m.Session()
		assert.Equal(t, margin.SessionError, s.State)
		assert.ErrorIs(t, s.LastError, margin.ErrNetwork)
	})

	t.Run("unconfirmed identity is an invalid credential", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			LoginFn: okLogin,
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				return margin.Identity{}, margin.ErrUnauthenticated
			},
		}
		m := auth.New(svc)
		err := m.Authenticate(context.Background(), margin.Credential{})
		assert.ErrorIs(t, err, margin.ErrInvalidCredential)
		assert.Equal(t, margin.SessionError, m.Session().State)
	})

	t.Run("retry allowed from error state", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				attempts++
				if attempts == 1 {
					return margin.Grant{}, margin.ErrInvalidCredential
				}
				return margin.Grant{}, nil
			},
			MeFn: okMe,
		}
		m := auth.New(svc)
		require.Error(t, m.Authenticate(context.Background(), margin.Credential{}))
		require.NoError(t, m.Authenticate(context.Background(), margin.Credential{}))
		assert.Equal(t, margin.SessionAuthenticated, m.Session().State)
	})

	t.Run("rejected while signed in", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{LoginFn: okLogin, MeFn: okMe}
		m := auth.New(svc)
		require.NoError(t, m.Authenticate(context.Background(), margin.Credential{}))
		err := m.Authenticate(context.Background(), margin.Credential{})
		assert.ErrorIs(t, err, margin.ErrSessionActive)
		assert.Equal(t, margin.SessionAuthenticated, m.Session().State)
	})

	t.Run("second attempt while authenticating fails fast", func(t *testing.T) {
		t.Parallel()
		entered := make(chan struct{})
		release := make(chan struct{})
		logins := 0
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				logins++
				close(entered)
				<-release
				return margin.Grant{}, nil
			},
			MeFn: okMe,
		}
		m := auth.New(svc)

		done := make(chan error, 1)
		go func() { done <- m.Authenticate(context.Background(), margin.Credential{}) }()
		<-entered

		assert.Equal(t, margin.SessionAuthenticating, m.Session().State)
		assert.ErrorIs(t, m.Authenticate(context.Background(), margin.Credential{}), margin.ErrAlreadyInProgress)
		assert.ErrorIs(t, m.StartDemo(context.Background()), margin.ErrAlreadyInProgress)
		assert.ErrorIs(t, m.Refresh(context.Background()), margin.ErrAlreadyInProgress)

		close(release)
		require.NoError(t, <-done)
		assert.Equal(t, 1, logins)
		assert.Equal(t, margin.SessionAuthenticated, m.Session().State)
	})

	t.Run("terminate during login discards the late result", func(t *testing.T) {
		t.Parallel()
		entered := make(chan struct{})
		release := make(chan struct{})
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				close(entered)
				<-release
				return margin.Grant{Token: "late"}, nil
			},
			MeFn: okMe,
		}
		var revoked []margin.Grant
		svc.LogoutFn = func(_ context.Context, g margin.Grant) error {
			revoked = append(revoked, g)
			return nil
		}
		m := auth.New(svc)

		done := make(chan error, 1)
		go func() { done <- m.Authenticate(context.Background(), margin.Credential{}) }()
		<-entered
		m.Terminate(context.Background())
		close(release)

		assert.ErrorIs(t, <-done, margin.ErrCancelled)
		assert.Equal(t, margin.SessionUnauthenticated, m.Session().State)
		assert.Equal(t, []margin.Grant{{}, {Token: "late"}}, revoked)
	})

	t.Run("failed late login is not signed out", func(t *testing.T) {
		t.Parallel()
		entered := make(chan struct{})
		release := make(chan struct{})
		var logouts int
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				close(entered)
				<-release
				return margin.Grant{}, fmt.Errorf("login: %w", margin.ErrInvalidCredential)
			},
			LogoutFn: func(context.Context, margin.Grant) error {
				logouts++
				return nil
			},
		}
		m := auth.New(svc)

		done := make(chan error, 1)
		go func() { done <- m.Authenticate(context.Background(), margin.Credential{}) }()
		<-entered
		m.Terminate(context.Background())
		close(release)

		assert.ErrorIs(t, <-done, margin.ErrCancelled)
		assert.Equal(t, 1, logouts)
	})
}

func TestManager_StartDemo(t *testing.T) {
	t.Parallel()

	t.Run("goes straight to demo active", func(t *testing.T) {
		t.Parallel()
		var states []margin.SessionState
		svc := &mock.AuthService{
			StartDemoFn: func(context.Context) (margin.Grant, error) { return margin.Grant{}, nil },
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				return margin.Identity{ID: "demo", Email: "demo@example.com"}, nil
			},
		}
		m := auth.New(svc)
		m.Subscribe(func(s margin.Session) { states = append(states, s.State) })

		require.NoError(t, m.StartDemo(context.Background()))

		s := m.Session()
		assert.Equal(t, margin.SessionDemoActive, s.State)
		require.NotNil(t, s.Identity)
		assert.True(t, s.Identity.Demo)
		assert.Equal(t, "demo", s.Identity.ID)
		assert.True(t, margin.CanAccess(s))
		assert.Equal(t, []margin.SessionState{margin.SessionDemoActive}, states)
	})

	t.Run("identity lookup failure still grants demo", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			StartDemoFn: func(context.Context) (margin.Grant, error) { return margin.Grant{}, nil },
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				return margin.Identity{}, margin.ErrNetwork
			},
		}
		m := auth.New(svc)
		require.NoError(t, m.StartDemo(context.Background()))
		s := m.Session()
		assert.Equal(t, margin.SessionDemoActive, s.State)
		require.NotNil(t, s.Identity)
		assert.True(t, s.Identity.Demo)
	})

	t.Run("server declines", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			StartDemoFn: func(context.Context) (margin.Grant, error) {
				return margin.Grant{}, fmt.Errorf("%w: demo capacity reached", margin.ErrDemoUnavailable)
			},
		}
		m := auth.New(svc)
		err := m.StartDemo(context.Background())
		assert.ErrorIs(t, err, margin.ErrDemoUnavailable)

		s := m.Session()
		assert.Equal(t, margin.SessionUnauthenticated, s.State)
		assert.ErrorIs(t, s.LastError, margin.ErrDemoUnavailable)
	})

	t.Run("only from unauthenticated", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				return margin.Grant{}, margin.ErrInvalidCredential
			},
		}
		m := auth.New(svc)
		require.Error(t, m.Authenticate(context.Background(), margin.Credential{}))
		assert.ErrorIs(t, m.StartDemo(context.Background()), margin.ErrSessionActive)
	})
}

func TestManager_Terminate(t *testing.T) {
	t.Parallel()

	t.Run("resets locally even when logout fails", func(t *testing.T) {
		t.Parallel()
		core, logs := observer.New(zapcore.WarnLevel)
		var loggedOut margin.Grant
		svc := &mock.AuthService{
			LoginFn: func(context.Context, margin.Credential) (margin.Grant, error) {
				return margin.Grant{Token: "tok"}, nil
			},
			MeFn: okMe,
			LogoutFn: func(_ context.Context, g margin.Grant) error {
				loggedOut = g
				return errors.New("connection refused")
			},
		}
		m := auth.New(svc, auth.WithLogger(zap.New(core)))
		require.NoError(t, m.Authenticate(context.Background(), margin.Credential{}))

		m.Terminate(context.Background())

		s := m.Session()
		assert.Equal(t, margin.SessionUnauthenticated, s.State)
		assert.Nil(t, s.Identity)
		assert.Equal(t, margin.Grant{}, s.Grant)
		assert.Equal(t, margin.Grant{Token: "tok"}, loggedOut)
		assert.Equal(t, 1, logs.FilterMessage("logout call failed").Len())
	})

	t.Run("from any state", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			StartDemoFn: func(context.Context) (margin.Grant, error) { return margin.Grant{}, nil },
			MeFn:        okMe,
		}
		m := auth.New(svc)
		m.Terminate(context.Background())
		assert.Equal(t, margin.SessionUnauthenticated, m.Session().State)

		require.NoError(t, m.StartDemo(context.Background()))
		m.Terminate(context.Background())
		assert.Equal(t, margin.SessionUnauthenticated, m.Session().State)
	})
}

func TestManager_Refresh(t *testing.T) {
	t.Parallel()

	t.Run("restores session from a persisted grant", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			MeFn: func(_ context.Context, g margin.Grant) (margin.Identity, error) {
				if g.Token != "saved" {
					return margin.Identity{}, margin.ErrUnauthenticated
				}
				return reader, nil
			},
		}
		m := auth.New(svc, auth.WithGrant(margin.Grant{Token: "saved"}))
		assert.Equal(t, margin.SessionUnauthenticated, m.Session().State)

		require.NoError(t, m.Refresh(context.Background()))
		s := m.Session()
		assert.Equal(t, margin.SessionAuthenticated, s.State)
		assert.Equal(t, "saved", s.Grant.Token)
	})

	t.Run("demo identity maps to demo active", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				return margin.Identity{ID: "d", Demo: true}, nil
			},
		}
		m := auth.New(svc)
		require.NoError(t, m.Refresh(context.Background()))
		assert.Equal(t, margin.SessionDemoActive, m.Session().State)
	})

	t.Run("is idempotent", func(t *testing.T) {
		t.Parallel()
		svc := &mock.AuthService{MeFn: okMe}
		m := auth.New(svc)
		require.NoError(t, m.Refresh(context.Background()))
		first := m.Session()
		require.NoError(t, m.Refresh(context.Background()))
		assert.Equal(t, first, m.Session())
	})

	t.Run("expired demo becomes unauthenticated with notice", func(t *testing.T) {
		t.Parallel()
		expired := false
		svc := &mock.AuthService{
			StartDemoFn: func(context.Context) (margin.Grant, error) { return margin.Grant{}, nil },
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				if expired {
					return margin.Identity{}, margin.ErrUnauthenticated
				}
				return margin.Identity{ID: "d"}, nil
			},
		}
		m := auth.New(svc)
		require.NoError(t, m.StartDemo(context.Background()))

		expired = true
		require.NoError(t, m.Refresh(context.Background()))

		s := m.Session()
		assert.Equal(t, margin.SessionUnauthenticated, s.State)
		assert.ErrorIs(t, s.LastError, margin.ErrDemoExpired)
		assert.False(t, margin.CanAccess(s))
	})

	t.Run("lost identity signs out without notice", func(t *testing.T) {
		t.Parallel()
		valid := true
		svc := &mock.AuthService{
			LoginFn: okLogin,
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				if !valid {
					return margin.Identity{}, margin.ErrUnauthenticated
				}
				return reader, nil
			},
		}
		m := auth.New(svc)
		require.NoError(t, m.Authenticate(context.Background(), margin.Credential{}))

		valid = false
		require.NoError(t, m.Refresh(context.Background()))
		s := m.Session()
		assert.Equal(t, margin.SessionUnauthenticated, s.State)
		assert.NoError(t, s.LastError)
	})

	t.Run("transport failure leaves session unchanged", func(t *testing.T) {
		t.Parallel()
		fail := false
		svc := &mock.AuthService{
			LoginFn: okLogin,
			MeFn: func(context.Context, margin.Grant) (margin.Identity, error) {
				if fail {
					return margin.Identity{}, fmt.Errorf("timeout: %w", margin.ErrNetwork)
				}
				return reader, nil
			},
		}
		m := auth.New(svc)
		require.NoError(t, m.Authenticate(context.Background(), margin.Credential{}))

		fail = true
		err := m.Refresh(context.Background())
		assert.ErrorIs(t, err, margin.ErrNetwork)
		assert.Equal(t, margin.SessionAuthenticated, m.Session().State)
	})
}

func TestManager_SessionIsSnapshot(t *testing.T) {
	t.Parallel()

	svc := &mock.AuthService{LoginFn: okLogin, MeFn: okMe}
	m := auth.New(svc)
	require.NoError(t, m.Authenticate(context.Background(), margin.Credential{}))

	s := m.Session()
	s.Identity.Email = "tampered@example.com"
	s.State = margin.SessionUnauthenticated

	fresh := m.Session()
	assert.Equal(t, reader.Email, fresh.Identity.Email)
	assert.Equal(t, margin.SessionAuthenticated, fresh.State)
}
