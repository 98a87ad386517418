// Package auth implements the session state machine that gates every
// privileged request.
//
// States move Unauthenticated → Authenticating → {Authenticated, Error}, with
// DemoActive reachable only from Unauthenticated. Only one backend call that
// can change identity is in flight at a time; a second caller fails fast with
// margin.ErrAlreadyInProgress. Terminate always wins locally: a login that
// completes after the session was terminated is discarded and its grant
// signed out again.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fwojciec/margin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fwojciec/margin/auth"

// Manager owns the process-wide Session. All mutations go through its
// methods; readers get snapshots.
type Manager struct {
	service margin.AuthService
	logger  *zap.Logger
	tracer  trace.Tracer

	mu        sync.Mutex
	session   margin.Session
	inFlight  bool
	epoch     uint64 // bumped on every transition that invalidates in-flight calls
	observers map[int]func(margin.Session)
	nextID    int
}

// Option configures a [Manager].
type Option func(*Manager)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) { m.tracer = tp.Tracer(instrumentationName) }
}

// WithGrant seeds the manager with credential material restored from a
// previous run. The session stays Unauthenticated until Refresh confirms it.
func WithGrant(g margin.Grant) Option {
	return func(m *Manager) { m.session.Grant = g }
}

// New creates a Manager in the Unauthenticated state.
func New(service margin.AuthService, opts ...Option) *Manager {
	m := &Manager{
		service:   service,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		observers: make(map[int]func(margin.Session)),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() margin.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Subscribe registers fn to receive a snapshot after every transition.
// The returned function removes the subscription.
func (m *Manager) Subscribe(fn func(margin.Session)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// Authenticate logs in with cred and re-validates the identity with the
// backend before trusting it. Allowed from Unauthenticated and Error.
func (m *Manager) Authenticate(ctx context.Context, cred margin.Credential) error {
	ctx, span := m.tracer.Start(ctx, "auth.authenticate")
	defer span.End()

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return m.fail(span, fmt.Errorf("authenticate: %w", margin.ErrAlreadyInProgress))
	}
	if s := m.session.State; s != margin.SessionUnauthenticated && s != margin.SessionError {
		m.mu.Unlock()
		return m.fail(span, fmt.Errorf("authenticate from %s: %w", s, margin.ErrSessionActive))
	}
	epoch := m.begin()
	m.session = margin.Session{State: margin.SessionAuthenticating}
	m.unlockAndNotify()

	grant, err := m.service.Login(ctx, cred)
	issued := err == nil
	var id margin.Identity
	if err == nil {
		id, err = m.service.Me(ctx, grant)
		if errors.Is(err, margin.ErrUnauthenticated) {
			err = fmt.Errorf("identity not confirmed after login: %w", margin.ErrInvalidCredential)
		}
	}
	var rejected *margin.RequestRejectedError
	if errors.As(err, &rejected) && !errors.Is(err, margin.ErrNetwork) {
		// A server failure is not a verdict on the credential.
		err = fmt.Errorf("%w: %w", margin.ErrNetwork, err)
	}

	m.mu.Lock()
	if !m.end(epoch) {
		m.logger.Info("discarding login result after session reset")
		m.revokeLate(ctx, issued, grant)
		return m.fail(span, fmt.Errorf("authenticate: %w", margin.ErrCancelled))
	}
	if err != nil {
		m.session = margin.Session{State: margin.SessionError, LastError: err}
		m.unlockAndNotify()
		m.logger.Info("login failed", zap.Error(err))
		return m.fail(span, err)
	}
	m.session = margin.Session{State: margin.SessionAuthenticated, Identity: &id, Grant: grant}
	m.unlockAndNotify()
	m.logger.Info("signed in", zap.String("user_id", id.ID), zap.Stringer("auth_mode", grant.Mode()))
	span.SetAttributes(attribute.String("session.state", margin.SessionAuthenticated.String()))
	return nil
}

// StartDemo asks the backend for a demo identity. Allowed only from
// Unauthenticated; there is no Authenticating step because no credential is
// verified.
func (m *Manager) StartDemo(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "auth.start_demo")
	defer span.End()

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return m.fail(span, fmt.Errorf("start demo: %w", margin.ErrAlreadyInProgress))
	}
	if s := m.session.State; s != margin.SessionUnauthenticated {
		m.mu.Unlock()
		return m.fail(span, fmt.Errorf("start demo from %s: %w", s, margin.ErrSessionActive))
	}
	epoch := m.begin()
	m.mu.Unlock()

	grant, err := m.service.StartDemo(ctx)
	id := margin.Identity{Demo: true, Entitlement: margin.EntitlementFree}
	if err == nil {
		// The grant alone is authoritative for a demo; identity details are
		// best-effort.
		if got, meErr := m.service.Me(ctx, grant); meErr == nil {
			id = got
			id.Demo = true
		} else {
			m.logger.Warn("demo identity lookup failed", zap.Error(meErr))
		}
	}

	m.mu.Lock()
	if !m.end(epoch) {
		m.logger.Info("discarding demo grant after session reset")
		m.revokeLate(ctx, err == nil, grant)
		return m.fail(span, fmt.Errorf("start demo: %w", margin.ErrCancelled))
	}
	if err != nil {
		m.session = margin.Session{State: margin.SessionUnauthenticated, LastError: err}
		m.unlockAndNotify()
		m.logger.Info("demo declined", zap.Error(err))
		return m.fail(span, err)
	}
	m.session = margin.Session{State: margin.SessionDemoActive, Identity: &id, Grant: grant}
	m.unlockAndNotify()
	m.logger.Info("demo started")
	span.SetAttributes(attribute.String("session.state", margin.SessionDemoActive.String()))
	return nil
}

// Terminate signs out. The local session resets to Unauthenticated
// immediately; the backend logout call is best-effort and only logged.
func (m *Manager) Terminate(ctx context.Context) {
	ctx, span := m.tracer.Start(ctx, "auth.terminate")
	defer span.End()

	m.mu.Lock()
	grant := m.session.Grant
	m.epoch++
	m.inFlight = false
	m.session = margin.Session{State: margin.SessionUnauthenticated}
	m.unlockAndNotify()

	if err := m.service.Logout(ctx, grant); err != nil {
		span.RecordError(err)
		m.logger.Warn("logout call failed", zap.Error(err))
		return
	}
	m.logger.Info("signed out")
}

// Refresh re-derives the session from the backend. When the backend reports
// no valid identity the session becomes Unauthenticated whatever it was
// before; a lost demo identity is marked with margin.ErrDemoExpired. On
// transport failure the session is left unchanged and the error returned.
func (m *Manager) Refresh(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return m.fail(span, fmt.Errorf("refresh: %w", margin.ErrAlreadyInProgress))
	}
	epoch := m.begin()
	grant := m.session.Grant
	prev := m.session.State
	m.mu.Unlock()

	id, err := m.service.Me(ctx, grant)

	m.mu.Lock()
	if !m.end(epoch) {
		m.mu.Unlock()
		return m.fail(span, fmt.Errorf("refresh: %w", margin.ErrCancelled))
	}
	switch {
	case err == nil:
		state := margin.SessionAuthenticated
		if id.Demo {
			state = margin.SessionDemoActive
		}
		m.session = margin.Session{State: state, Identity: &id, Grant: grant}
		m.unlockAndNotify()
		span.SetAttributes(attribute.String("session.state", state.String()))
		return nil
	case errors.Is(err, margin.ErrUnauthenticated):
		var notice error
		if prev == margin.SessionDemoActive {
			notice = margin.ErrDemoExpired
		}
		m.session = margin.Session{State: margin.SessionUnauthenticated, LastError: notice}
		m.unlockAndNotify()
		m.logger.Info("no valid identity", zap.Stringer("previous", prev))
		span.SetAttributes(attribute.String("session.state", margin.SessionUnauthenticated.String()))
		return nil
	default:
		m.mu.Unlock()
		m.logger.Warn("refresh failed", zap.Error(err))
		return m.fail(span, fmt.Errorf("refresh: %w", err))
	}
}

// begin marks a call in flight and returns its epoch. Must hold mu.
func (m *Manager) begin() uint64 {
	m.inFlight = true
	m.epoch++
	return m.epoch
}

// end clears the in-flight mark if epoch is still current and reports
// whether the caller may apply its result. Must hold mu.
func (m *Manager) end(epoch uint64) bool {
	if epoch != m.epoch {
		return false
	}
	m.inFlight = false
	return true
}

// revokeLate signs out a grant that was issued after Terminate reset the
// session, so the server session and any cookie it set do not outlive the
// sign-out. It is skipped when a newer call or session already took over.
// Must hold mu; unlocks it.
func (m *Manager) revokeLate(ctx context.Context, issued bool, grant margin.Grant) {
	idle := m.session.State == margin.SessionUnauthenticated && !m.inFlight
	m.mu.Unlock()
	if !issued || !idle {
		return
	}
	if err := m.service.Logout(context.WithoutCancel(ctx), grant); err != nil {
		m.logger.Warn("revoking late grant failed", zap.Error(err))
	}
}

func (m *Manager) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// unlockAndNotify must be called with mu held.
func (m *Manager) unlockAndNotify() {
	snap := m.session.Clone()
	fns := make([]func(margin.Session), 0, len(m.observers))
	for _, fn := range m.observers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}
