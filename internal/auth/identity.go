package auth

import (
	"errors"
	"net/http"
	"strings"
)

// ErrTokenRequired is returned when a resolver demands a token and none was sent.
var ErrTokenRequired = errors.New("token required")

// Identity is the authenticated user behind a connection.
type Identity struct {
	ID          string
	DisplayName string
	Role        string
}

// Resolver extracts the caller identity from an upgrade or stream request.
// A nil identity with a nil error means an anonymous guest; an error means reject.
type Resolver interface {
	Resolve(r *http.Request) (*Identity, error)
}

// JWTResolver validates bearer tokens or the token query parameter.
type JWTResolver struct {
	Config   *JWTConfig
	Required bool
}

// Resolve implements Resolver.
func (j *JWTResolver) Resolve(r *http.Request) (*Identity, error) {
	raw := TokenFromRequest(r)
	if raw == "" || j.Config == nil || len(j.Config.Secret) == 0 {
		if j.Required {
			return nil, ErrTokenRequired
		}
		return nil, nil
	}

	claims, err := ValidateToken(j.Config, raw)
	if err != nil {
		if j.Required {
			return nil, err
		}
		return nil, nil
	}
	return &Identity{
		ID:          claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        claims.Role,
	}, nil
}

// GuestResolver accepts every request as a guest.
type GuestResolver struct{}

// Resolve implements Resolver.
func (GuestResolver) Resolve(*http.Request) (*Identity, error) { return nil, nil }

// TokenFromRequest reads "Authorization: Bearer <token>" and falls back to ?token=.
// Browsers cannot set headers on EventSource or WebSocket upgrades.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
