package margin_test

import (
	"testing"

	"github.com/fwojciec/margin"
	"github.com/stretchr/testify/assert"
)

func TestCanAccess(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state margin.SessionState
		want  bool
	}{
		{margin.SessionUnauthenticated, false},
		{margin.SessionAuthenticating, false},
		{margin.SessionAuthenticated, true},
		{margin.SessionDemoActive, true},
		{margin.SessionError, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, margin.CanAccess(margin.Session{State: tt.state}))
		})
	}
}
