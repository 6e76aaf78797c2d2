package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey struct{}

// Middleware authenticates HTTP requests with bearer tokens.
type Middleware struct {
	jwt      *JWTManager
	skipAuth bool
	logger   *zap.Logger
}

// NewMiddleware builds the middleware. With skipAuth every request runs as a
// dev principal holding all scopes.
func NewMiddleware(jwt *JWTManager, skipAuth bool, logger *zap.Logger) *Middleware {
	return &Middleware{jwt: jwt, skipAuth: skipAuth, logger: logger}
}

func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			p := &Principal{Subject: "dev", Scopes: AllScopes, Dev: true}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
			return
		}

		var token string
		if h := r.Header.Get("Authorization"); h != "" {
			t, err := ExtractBearerToken(h)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			token = t
		} else if strings.Contains(r.URL.Path, "/stream/") {
			// browsers cannot set headers on WebSocket upgrades
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		p, err := m.jwt.Validate(token)
		if err != nil {
			m.logger.Debug("Token rejected", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// RequireScope rejects requests whose principal lacks scope.
func RequireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !p.HasScope(scope) {
			writeError(w, http.StatusForbidden, "missing required scope: "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
