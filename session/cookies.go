package session

import (
	"net/http"

	"github.com/jmcleod/sessionguard/identity"
)

// WriteCookies sets the identity cookies for the current session on w. It
// reports false, and writes nothing, when there is no session.
func (c *Coordinator) WriteCookies(w http.ResponseWriter, cfg identity.CookieConfig) bool {
	ident, ok := c.Session()
	if !ok {
		return false
	}
	identity.WriteCookies(w, ident, cfg)
	return true
}
