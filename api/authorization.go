// Package api provides authorization middleware for the admin HTTP
// surface: resolving the authenticated caller into context, and
// guarding the one domain action that needs fine-grained scope
// checking — creating or deleting a flow.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// AuthUser represents the caller identityMiddleware resolved from a
// validated JWT.
type AuthUser struct {
	ID       string                 `json:"id"`
	Username string                 `json:"username,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Scopes   []string               `json:"scopes,omitempty"`
	Claims   map[string]interface{} `json:"claims,omitempty"`
}

const contextKeyUser = "user"

// SetUser stores the authenticated user in the Echo context.
func SetUser(c echo.Context, user *AuthUser) {
	c.Set(contextKeyUser, user)
}

// GetUser retrieves the authenticated user from the Echo context.
func GetUser(c echo.Context) (*AuthUser, bool) {
	user, ok := c.Get(contextKeyUser).(*AuthUser)
	return user, ok
}

// requireFlowWriteScope guards POST /v1/flows and DELETE /v1/flows/:id:
// a caller may mutate flows with the blanket "flows:write" or "admin"
// scope, or with a scope tied to this specific flow
// ("flows:<id>:write") on routes that carry a flow id. Unlike a
// general-purpose scope checker, it only ever needs to reason about
// this one route pair's scope shape.
func requireFlowWriteScope(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, ok := GetUser(c)
		if !ok || user == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}

		if hasScope(user.Scopes, "admin") || hasScope(user.Scopes, "flows:write") {
			return next(c)
		}

		if flowID := c.Param("id"); flowID != "" && hasScope(user.Scopes, "flows:"+flowID+":write") {
			return next(c)
		}

		return echo.NewHTTPError(http.StatusForbidden, "missing flow write scope")
	}
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
