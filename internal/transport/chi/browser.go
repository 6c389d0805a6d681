package chi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// BrowserCookie names the cookie identifying a browser across tabs and reloads.
const BrowserCookie = "kgbrowse_browser"

// browserCookieMaxAge keeps the browser id for a year.
const browserCookieMaxAge = 365 * 24 * 60 * 60

// exemptPaths are routes that need no browser identity (health, metrics).
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type browserIDKey struct{}

// BrowserIDFromContext returns the browser id placed by BrowserIDMiddleware.
func BrowserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(browserIDKey{}).(string)
	return id
}

// BrowserIDMiddleware returns a middleware that identifies the browser by cookie,
// issuing a new id when the cookie is missing or invalid. Preferences are keyed by it.
func BrowserIDMiddleware(secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			var id string
			if c, err := r.Cookie(BrowserCookie); err == nil {
				if parsed, err := uuid.Parse(c.Value); err == nil {
					id = parsed.String()
				}
			}
			if id == "" {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     BrowserCookie,
					Value:    id,
					Path:     "/",
					MaxAge:   browserCookieMaxAge,
					HttpOnly: true,
					Secure:   secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			ctx := context.WithValue(r.Context(), browserIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
