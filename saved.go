package margin

import "time"

// Cookie is a name/value pair held by the backend client's cookie jar.
type Cookie struct {
	Name  string
	Value string
}

// SavedSession is the credential material persisted between runs so a
// restarted client can re-validate instead of signing in again.
type SavedSession struct {
	Token   string
	Cookies []Cookie
}

// Empty reports whether there is nothing worth persisting.
func (s SavedSession) Empty() bool {
	return s.Token == "" && len(s.Cookies) == 0
}

// Transcript is a finished conversation saved for later reading.
type Transcript struct {
	ID        string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
	Messages  []Message
}
