package session

import (
	"io"
	"net/http"

	"github.com/jmcleod/sessionguard/identity"
)

// Transport returns an http.RoundTripper that authenticates requests with
// the current session. It sets the bearer token and the anti-forgery
// header, so host code never handles the tokens. On a 401 it refreshes the
// access token once and retries requests whose body can be replayed.
// A nil base uses http.DefaultTransport.
func (c *Coordinator) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{c: c, base: base}
}

type transport struct {
	c    *Coordinator
	base http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	authed, err := t.authorize(req)
	if err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(authed)
	if err != nil || resp.StatusCode != http.StatusUnauthorized || !replayable(req) {
		return resp, err
	}

	if rerr := t.c.tokens.RefreshNow(req.Context()); rerr != nil {
		t.c.logger.Debug("refresh after 401 failed", "error", rerr)
		return resp, nil
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	retry, err := t.authorize(req)
	if err != nil {
		return nil, err
	}
	if req.GetBody != nil {
		if retry.Body, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return t.base.RoundTrip(retry)
}

// authorize returns a clone of req carrying the session headers.
func (t *transport) authorize(req *http.Request) (*http.Request, error) {
	ident, ok := t.c.Session()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	cred, ok := t.c.store.Get(req.Context())
	if !ok {
		return nil, ErrNotAuthenticated
	}
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+cred.AccessToken)
	out.Header.Set(identity.AntiForgeryHeaderName, ident.AntiForgeryToken)
	return out, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}
