package margin

// SessionState enumerates the authentication states of a Session.
type SessionState int

const (
	SessionUnauthenticated SessionState = iota
	SessionAuthenticating
	SessionAuthenticated
	SessionDemoActive
	SessionError
)

func (s SessionState) String() string {
	switch s {
	case SessionUnauthenticated:
		return "unauthenticated"
	case SessionAuthenticating:
		return "authenticating"
	case SessionAuthenticated:
		return "authenticated"
	case SessionDemoActive:
		return "demo"
	case SessionError:
		return "error"
	default:
		return "unknown"
	}
}

// Entitlement records which gated capabilities an identity holds.
type Entitlement string

const (
	EntitlementFree       Entitlement = "free"
	EntitlementSubscriber Entitlement = "subscriber"
)

// Identity is the user identity reported by the backend.
type Identity struct {
	ID          string
	Email       string
	Entitlement Entitlement
	Demo        bool
}

// Subscribed reports whether the identity holds the subscriber entitlement.
func (i Identity) Subscribed() bool {
	return i.Entitlement == EntitlementSubscriber
}

// AuthMode is the kind of credential material a Grant carries.
type AuthMode int

const (
	AuthModeCookie AuthMode = iota // credential lives in the cookie jar
	AuthModeBearer                 // credential is an explicit token
)

func (m AuthMode) String() string {
	if m == AuthModeBearer {
		return "bearer"
	}
	return "cookie"
}

// Grant is the credential material issued by the backend. The zero value
// means cookie-based credentials held by the transport.
type Grant struct {
	Token string
}

// Mode returns the auth mode implied by the grant.
func (g Grant) Mode() AuthMode {
	if g.Token != "" {
		return AuthModeBearer
	}
	return AuthModeCookie
}

// Session is the process-wide authentication state. Values returned by
// accessors are snapshots; mutate only through the session manager.
//
// Identity is non-nil only in SessionAuthenticated and SessionDemoActive.
// LastError holds the reason for SessionError, or a notice attached to
// SessionUnauthenticated (e.g. an expired demo).
type Session struct {
	State     SessionState
	Identity  *Identity
	Grant     Grant
	LastError error
}

// Clone returns a deep copy so callers never share the identity pointer.
func (s Session) Clone() Session {
	if s.Identity != nil {
		id := *s.Identity
		s.Identity = &id
	}
	return s
}
