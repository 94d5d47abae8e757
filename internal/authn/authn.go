// Package authn adapts the project's standalone JWT/bcrypt auth package
// (see auth.AuthService, auth.TokenService) to the collaboration system:
// it turns a bearer token into the Identity the gateway and REST layer
// authorize against, mapping auth's error taxonomy onto apierr.AuthFailed.
package authn

import (
	"strings"

	"github.com/evalgo/flowcollab/auth"
	"github.com/evalgo/flowcollab/internal/apierr"
)

// Identity is what a validated token resolves to.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
	Tier     string
}

// Authenticator validates bearer tokens issued by auth.AuthService.
type Authenticator struct {
	svc auth.AuthService
}

// New wraps an already-constructed auth.AuthService.
func New(svc auth.AuthService) *Authenticator {
	return &Authenticator{svc: svc}
}

// Authenticate validates a raw token (with or without a "Bearer " prefix)
// and resolves it to an Identity. Every failure is reported as
// apierr.AuthFailed per the error handling design — callers never need to
// distinguish expired vs malformed vs unsigned at the transport boundary.
func (a *Authenticator) Authenticate(rawToken string) (*Identity, error) {
	token := strings.TrimPrefix(strings.TrimSpace(rawToken), "Bearer ")
	if token == "" {
		return nil, apierr.New(apierr.AuthFailed, "missing credentials")
	}

	claims, err := a.svc.ValidateToken(token)
	if err != nil {
		return nil, apierr.Wrap(apierr.AuthFailed, "invalid or expired token", err)
	}

	return &Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Roles:    claims.Roles,
		Tier:     tierOf(claims.Roles),
	}, nil
}

// HasRole reports whether id carries role.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// tierOf maps a role set to a rate-limit tier. Roles are a superset of
// billing tiers here: an explicit enterprise/pro role wins, everyone else
// is free.
func tierOf(roles []string) string {
	for _, r := range roles {
		switch r {
		case "enterprise":
			return "enterprise"
		case "pro":
			return "pro"
		}
	}
	return "free"
}
