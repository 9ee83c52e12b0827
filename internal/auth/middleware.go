package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vigil-sec/vigil/internal/shared"
)

// Verifier resolves a raw token into a principal.
type Verifier interface {
	Verify(ctx context.Context, token string) (shared.Principal, error)
}

// Middleware attaches the authenticated principal to requests.
type Middleware struct {
	verifier Verifier
	logger   *slog.Logger
}

// NewMiddleware constructs the auth middleware.
func NewMiddleware(verifier Verifier, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{verifier: verifier, logger: logger}
}

// Authenticate verifies the token cookie when present. Requests without a
// valid token continue anonymously and a rejected cookie is cleared.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(TokenCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal, err := m.verifier.Verify(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, shared.ErrUnauthenticated) {
				m.logger.Error("verify token", slog.Any("error", err))
			}
			http.SetCookie(w, &http.Cookie{Name: TokenCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
	})
}

// RequireUser redirects anonymous page requests to the login form.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		target := "/auth/login?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusSeeOther)
	})
}
