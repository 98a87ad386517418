package margin

// CanAccess reports whether a session may reach protected resources. It is
// the single gate consulted by navigation and by chat before any request.
func CanAccess(s Session) bool {
	return s.State == SessionAuthenticated || s.State == SessionDemoActive
}
