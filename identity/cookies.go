package identity

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"
)

const (
	SessionCookieName     = "sg_session"
	AntiForgeryCookieName = "sg_csrf"
	AntiForgeryHeaderName = "X-CSRF-Token"
)

// CookieConfig controls the attributes of the identity cookies.
type CookieConfig struct {
	Path   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

// WriteCookies sets the session cookie and the anti-forgery cookie for ctx.
//
// The session cookie is HttpOnly: it is set by the server and the browser
// never exposes it to page script. The anti-forgery cookie is deliberately
// readable so the page can echo it in the X-CSRF-Token header.
func WriteCookies(w http.ResponseWriter, ctx Context, cfg CookieConfig) {
	maxAge := int(cfg.MaxAge / time.Second)
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    ctx.SessionID,
		Path:     cfg.path(),
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     AntiForgeryCookieName,
		Value:    ctx.AntiForgeryToken,
		Path:     cfg.path(),
		Domain:   cfg.Domain,
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookies expires both identity cookies.
func ClearCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{SessionCookieName, AntiForgeryCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     cfg.path(),
			Domain:   cfg.Domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: name == SessionCookieName,
			Secure:   cfg.Secure,
		})
	}
}

// RequireAntiForgery enforces double-submit protection for cookie-bearing
// mutating requests. Safe methods and requests without a session cookie pass
// through: cross-origin requests cannot set custom headers.
func RequireAntiForgery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := r.Cookie(SessionCookieName); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(AntiForgeryCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, http.StatusForbidden, "missing anti-forgery token")
			return
		}
		header := r.Header.Get(AntiForgeryHeaderName)
		if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
			writeError(w, http.StatusForbidden, "invalid anti-forgery token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
