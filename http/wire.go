package http

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/fwojciec/margin"
)

// apiError is the error payload shape used by the backend.
type apiError struct {
	Detail json.RawMessage `json:"detail"`
}

// apiToken is the login response when the backend issues a bearer token.
type apiToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// apiIdentity is the /auth/me payload.
type apiIdentity struct {
	ID           flexibleID `json:"id"`
	Email        string     `json:"email"`
	IsSubscribed bool       `json:"is_subscribed"`
	IsDemo       *bool      `json:"is_demo"`
}

type apiChatRequest struct {
	Message string `json:"message"`
}

// flexibleID accepts an identifier encoded as either a JSON number or a
// JSON string.
type flexibleID string

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = flexibleID(n.String())
	return nil
}

func (a apiIdentity) toIdentity(demoEmail string) margin.Identity {
	id := margin.Identity{
		ID:          string(a.ID),
		Email:       a.Email,
		Entitlement: margin.EntitlementFree,
	}
	if a.IsSubscribed {
		id.Entitlement = margin.EntitlementSubscriber
	}
	if a.IsDemo != nil {
		id.Demo = *a.IsDemo
	} else {
		id.Demo = demoEmail != "" && strings.EqualFold(a.Email, demoEmail)
	}
	return id
}
