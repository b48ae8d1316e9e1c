package security

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionCookieName is the cookie that carries the browser session ID.
const SessionCookieName = "carelog_session"

// GenerateSessionID returns a random session ID. OAuth state nonces use it too.
func GenerateSessionID() string {
	return uuid.New().String()
}

// IsSecureRequest reports whether the client reached us over HTTPS. Only the first
// hop of X-Forwarded-Proto counts.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil || r.URL.Scheme == "https" {
		return true
	}
	proto, _, _ := strings.Cut(r.Header.Get("X-Forwarded-Proto"), ",")
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

func baseCookie(r *http.Request, name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   IsSecureRequest(r),
		SameSite: http.SameSiteLaxMode,
	}
}

// CreateSessionCookie lives until the session's own expiry.
func CreateSessionCookie(r *http.Request, name, value string, expires time.Time) *http.Cookie {
	c := baseCookie(r, name, value)
	c.Expires = expires
	return c
}

// TempCookie holds short-lived flow state, such as the OAuth state nonce.
func TempCookie(r *http.Request, name, value string, ttl time.Duration) *http.Cookie {
	c := baseCookie(r, name, value)
	c.Expires = time.Now().Add(ttl)
	c.MaxAge = int(ttl.Seconds())
	return c
}

// CreateDeleteCookie expires the named cookie.
func CreateDeleteCookie(r *http.Request, name string) *http.Cookie {
	c := baseCookie(r, name, "")
	c.MaxAge = -1
	return c
}
