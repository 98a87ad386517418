package http

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"github.com/fwojciec/margin"
	"golang.org/x/net/publicsuffix"
)

// jar is a cookie jar that can be emptied in place. The *http.Client keeps a
// reference to it, so logout swaps the inner jar rather than the client's.
type jar struct {
	mu    sync.Mutex
	inner *cookiejar.Jar
}

var _ http.CookieJar = (*jar)(nil)

func newJar() (*jar, error) {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &jar{inner: inner}, nil
}

func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
}

func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

func (j *jar) reset() {
	inner, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		// cookiejar.New never fails with non-nil options.
		panic(err)
	}
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
}

// Cookies returns the cookies the jar would send to the backend.
func (c *Client) Cookies() []margin.Cookie {
	u, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return nil
	}
	var out []margin.Cookie
	for _, ck := range c.jar.Cookies(u) {
		out = append(out, margin.Cookie{Name: ck.Name, Value: ck.Value})
	}
	return out
}

// RestoreCookies loads previously saved cookies into the jar, scoped to the
// backend's base URL.
func (c *Client) RestoreCookies(cookies []margin.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	u, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return err
	}
	hc := make([]*http.Cookie, len(cookies))
	for i, ck := range cookies {
		hc[i] = &http.Cookie{Name: ck.Name, Value: ck.Value, Path: "/"}
	}
	c.jar.SetCookies(u, hc)
	return nil
}
