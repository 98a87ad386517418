package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fwojciec/margin"
)

// Login posts the credential as a form. A 2xx response either sets a
// session cookie or carries a bearer token; the returned grant records which.
func (c *Client) Login(ctx context.Context, cred margin.Credential) (margin.Grant, error) {
	form := url.Values{}
	form.Set("username", cred.Email)
	form.Set("password", cred.Password)

	req, err := c.newRequest(ctx, http.MethodPost, c.loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return margin.Grant{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.do(req, margin.Grant{})
	if err != nil {
		return margin.Grant{}, err
	}
	defer resp.Body.Close()

	switch {
	case success(resp):
		return grantFrom(resp.Body), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return margin.Grant{}, fmt.Errorf("http: login: %w: %s", margin.ErrInvalidCredential, detail(resp))
	default:
		return margin.Grant{}, rejected(resp)
	}
}

// StartDemo asks the backend for a demo grant. Any failure status means the
// backend declined.
func (c *Client) StartDemo(ctx context.Context) (margin.Grant, error) {
	req, err := c.newRequest(ctx, http.MethodPost, startDemoPath, nil)
	if err != nil {
		return margin.Grant{}, err
	}
	resp, err := c.do(req, margin.Grant{})
	if err != nil {
		return margin.Grant{}, err
	}
	defer resp.Body.Close()

	if !success(resp) {
		return margin.Grant{}, fmt.Errorf("http: start demo: %w: %s", margin.ErrDemoUnavailable, detail(resp))
	}
	return grantFrom(resp.Body), nil
}

// Me fetches the identity the backend associates with the current cookies
// and grant.
func (c *Client) Me(ctx context.Context, grant margin.Grant) (margin.Identity, error) {
	req, err := c.newRequest(ctx, http.MethodGet, mePath, nil)
	if err != nil {
		return margin.Identity{}, err
	}
	resp, err := c.do(req, grant)
	if err != nil {
		return margin.Identity{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return margin.Identity{}, fmt.Errorf("http: me: %w", margin.ErrUnauthenticated)
	case !success(resp):
		return margin.Identity{}, rejected(resp)
	}

	var a apiIdentity
	if err := json.NewDecoder(resp.Body).Decode(&a); err != nil {
		return margin.Identity{}, fmt.Errorf("http: decode identity: %w", err)
	}
	return a.toIdentity(c.demoEmail), nil
}

// Logout asks the backend to invalidate the session. The local cookie jar
// is emptied whatever the outcome.
func (c *Client) Logout(ctx context.Context, grant margin.Grant) error {
	defer c.jar.reset()

	req, err := c.newRequest(ctx, http.MethodPost, logoutPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.do(req, grant)
	if err != nil {
		return err
	}
	defer drain(resp)
	if !success(resp) {
		return rejected(resp)
	}
	return nil
}

// grantFrom reads an optional bearer token from a success body. Bodies that
// are empty or not JSON mean the session lives in cookies.
func grantFrom(body io.Reader) margin.Grant {
	var tok apiToken
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&tok); err != nil {
		return margin.Grant{}
	}
	return margin.Grant{Token: tok.AccessToken}
}
