// Package identity assigns each browser an anonymous session id.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCookieName = "mh_session"
	SessionHeaderName = "X-Session-ID"
	cookieMaxAge      = 30 * 24 * time.Hour
)

type contextKey int

const sessionIDKey contextKey = iota

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Options configures the session cookie.
type Options struct {
	CookieName string
	Secure     bool
}

func (o Options) cookieName() string {
	if o.CookieName == "" {
		return DefaultCookieName
	}
	return o.CookieName
}

// SessionIDFromContext returns the session id set by Middleware, or "".
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID stores id in ctx.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SanitizeSessionID trims id and reports whether it is usable as a key.
func SanitizeSessionID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

func setCookie(w http.ResponseWriter, opts Options, value string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     opts.cookieName(),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   opts.Secure,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
		c.Expires = time.Now().Add(maxAge)
	} else {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	http.SetCookie(w, c)
}

func getOrCreateSessionID(w http.ResponseWriter, r *http.Request, opts Options) string {
	if sid, ok := SanitizeSessionID(r.Header.Get(SessionHeaderName)); ok {
		return sid
	}
	if c, err := r.Cookie(opts.cookieName()); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			setCookie(w, opts, c.Value, cookieMaxAge)
			return c.Value
		}
	}
	id := uuid.NewString()
	setCookie(w, opts, id, cookieMaxAge)
	return id
}

// Middleware puts the caller's session id in the request context, issuing
// a fresh cookie when the request carries none.
func Middleware(opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := getOrCreateSessionID(w, r, opts)
			next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
		})
	}
}

// ClearCookie expires the session cookie.
func ClearCookie(w http.ResponseWriter, opts Options) {
	setCookie(w, opts, "", 0)
}

// IPFromRequest returns a normalized remote IP.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
