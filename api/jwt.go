// Package api provides HTTP handlers and routing for the collaboration
// system's admin/control-plane surface: health and readiness probes, a
// Prometheus scrape endpoint, a service registry snapshot, a REST mirror
// of the flow manager for tooling that doesn't want to speak the
// WebSocket protocol, and dev-only token issuance.
package api

import (
	"net/http"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evalgo/flowcollab/auth"
	"github.com/evalgo/flowcollab/internal/apierr"
	"github.com/evalgo/flowcollab/internal/flow"
	"github.com/evalgo/flowcollab/internal/registry"
	"github.com/evalgo/flowcollab/version"
)

// jwtContextKey is where echo-jwt stashes the parsed token. It is kept
// distinct from the "user" key SetUser/GetUser use for the resolved
// AuthUser so the two don't collide in the Echo context.
const jwtContextKey = "jwt_token"

// Handlers contains the service dependencies the admin surface fronts:
// the same flow manager and service registry the WebSocket gateway
// drives, plus the auth service that issues and validates tokens.
type Handlers struct {
	Flows    *flow.Manager
	Registry *registry.Registry
	Auth     auth.AuthService
}

// SetupRoutes configures the admin HTTP surface. Health and metrics are
// unauthenticated (they back orchestrator probes and scrapers); the flow
// CRUD mirror requires a bearer token validated the same way the
// gateway validates one, mirroring the teacher's protected-group
// pattern.
func SetupRoutes(e *echo.Echo, h *Handlers, signingKey string) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	authGroup := e.Group("/v1/auth")
	authGroup.POST("/token", h.IssueToken)
	authGroup.POST("/refresh", h.RefreshToken)
	authGroup.POST("/logout", h.Logout)

	protected := e.Group("/v1")
	protected.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(signingKey),
		ContextKey:  jwtContextKey,
		TokenLookup: "header:Authorization:Bearer ",
	}))
	protected.Use(identityMiddleware)

	protected.GET("/registry", h.ListRegistry)
	protected.POST("/flows", h.CreateFlow, requireFlowWriteScope)
	protected.GET("/flows/:id", h.GetFlow)
	protected.DELETE("/flows/:id", h.DeleteFlow, requireFlowWriteScope)
	protected.POST("/auth/change-password", h.ChangePassword)
}

// Healthz reports liveness: the process is up and can respond at all.
func (h *Handlers) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetModuleVersion(),
	})
}

// Readyz reports readiness: the flow manager and registry were wired up
// successfully during startup. It does not round-trip to the document
// store on every probe — that would make a slow dependency page the
// whole process.
func (h *Handlers) Readyz(c echo.Context) error {
	if h.Flows == nil || h.Registry == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

// identityMiddleware resolves the token echo-jwt already validated into
// an AuthUser so downstream handlers (and requireFlowWriteScope) can
// read it via GetUser.
func identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get(jwtContextKey).(*jwt.Token)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "malformed token claims")
		}

		user := &AuthUser{Claims: claims}
		if sub, ok := claims["user_id"].(string); ok {
			user.ID = sub
		}
		if username, ok := claims["username"].(string); ok {
			user.Username = username
		}
		if roles, ok := claims["roles"].([]interface{}); ok {
			for _, role := range roles {
				if s, ok := role.(string); ok {
					user.Scopes = append(user.Scopes, s)
				}
			}
		}
		SetUser(c, user)
		return next(c)
	}
}

// ListRegistry returns the current service registry snapshot.
//
// Endpoint: GET /v1/registry
func (h *Handlers) ListRegistry(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"services": h.Registry.Snapshot(),
	})
}

type createFlowRequest struct {
	ProjectID   string `json:"projectId"`
	WorkspaceID string `json:"workspaceId"`
	Template    string `json:"template"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateFlow mirrors C7's createFlow for tooling that prefers REST over
// the WebSocket protocol.
//
// Endpoint: POST /v1/flows
func (h *Handlers) CreateFlow(c echo.Context) error {
	var req createFlowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody(apierr.New(apierr.ValidationError, "invalid request body")))
	}

	userID := requestingUserID(c)
	doc, err := h.Flows.CreateFlow(c.Request().Context(), flow.CreateParams{
		ProjectID: req.ProjectID, WorkspaceID: req.WorkspaceID, UserID: userID,
		Template: req.Template, Name: req.Name, Description: req.Description,
	})
	if err != nil {
		return c.JSON(statusFor(err), errBody(err))
	}
	return c.JSON(http.StatusCreated, doc)
}

// GetFlow mirrors C7's getFlow.
//
// Endpoint: GET /v1/flows/:id
func (h *Handlers) GetFlow(c echo.Context) error {
	doc, err := h.Flows.GetFlow(c.Request().Context(), c.Param("id"), flow.GetFilters{
		ProjectID:   c.QueryParam("projectId"),
		WorkspaceID: c.QueryParam("workspaceId"),
	})
	if err != nil {
		return c.JSON(statusFor(err), errBody(err))
	}
	return c.JSON(http.StatusOK, doc)
}

// DeleteFlow mirrors C7's deleteFlow (soft delete).
//
// Endpoint: DELETE /v1/flows/:id
func (h *Handlers) DeleteFlow(c echo.Context) error {
	userID := requestingUserID(c)
	if err := h.Flows.DeleteFlow(c.Request().Context(), c.Param("id"), userID); err != nil {
		return c.JSON(statusFor(err), errBody(err))
	}
	return c.NoContent(http.StatusNoContent)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// IssueToken exchanges a username/password for an access token pair. It
// exists so the WebSocket handshake and the REST mirror above have
// something to authenticate against in local/dev/test environments;
// production identity issuance is out of scope.
//
// Endpoint: POST /v1/auth/token
func (h *Handlers) IssueToken(c echo.Context) error {
	var req tokenRequest
	if err := c.Bind(&req); err != nil || req.Username == "" || req.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "username and password are required"})
	}

	result, err := h.Auth.Login(req.Username, req.Password)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"accessToken":  result.AccessToken,
		"refreshToken": result.RefreshToken,
		"expiresAt":    result.ExpiresAt,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken exchanges a still-valid refresh token for a new token
// pair, rotating the refresh token in the process.
//
// Endpoint: POST /v1/auth/refresh
func (h *Handlers) RefreshToken(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "refreshToken is required"})
	}

	pair, err := h.Auth.RefreshToken(req.RefreshToken)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired refresh token"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresAt":    pair.ExpiresAt,
	})
}

// Logout revokes the presented refresh token so it can no longer be
// redeemed.
//
// Endpoint: POST /v1/auth/logout
func (h *Handlers) Logout(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "refreshToken is required"})
	}

	if err := h.Auth.Logout(req.RefreshToken); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid refresh token"})
	}

	return c.NoContent(http.StatusNoContent)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ChangePassword changes the caller's own password.
//
// Endpoint: POST /v1/auth/change-password
func (h *Handlers) ChangePassword(c echo.Context) error {
	userID := requestingUserID(c)
	if userID == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing identity"})
	}

	var req changePasswordRequest
	if err := c.Bind(&req); err != nil || req.NewPassword == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "currentPassword and newPassword are required"})
	}

	if err := h.Auth.ChangePassword(userID, req.CurrentPassword, req.NewPassword); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.NoContent(http.StatusNoContent)
}

func requestingUserID(c echo.Context) string {
	if user, ok := GetUser(c); ok && user != nil {
		return user.ID
	}
	return ""
}

func errBody(err error) map[string]string {
	return map[string]string{"error": string(apierr.CodeOf(err)), "message": err.Error()}
}

func statusFor(err error) int {
	switch apierr.CodeOf(err) {
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.ValidationError:
		return http.StatusBadRequest
	case apierr.AuthFailed:
		return http.StatusUnauthorized
	case apierr.SizeLimit:
		return http.StatusRequestEntityTooLarge
	case apierr.RateLimit:
		return http.StatusTooManyRequests
	case apierr.ServiceUnavailable, apierr.KVUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
