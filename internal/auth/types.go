package auth

import "github.com/golang-jwt/jwt/v5"

// Scopes granted to callers of the HTTP API.
const (
	ScopeChat        = "chat"
	ScopeReview      = "review"
	ScopeThreadsRead = "threads:read"
)

// AllScopes is what a token gets when none are requested.
var AllScopes = []string{ScopeChat, ScopeReview, ScopeThreadsRead}

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Principal is the authenticated caller attached to a request context.
type Principal struct {
	Subject string
	Scopes  []string
	Dev     bool
}

func (p *Principal) HasScope(scope string) bool {
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
