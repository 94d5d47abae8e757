package auth

import (
	"time"

	"github.com/evalgo/flowcollab/semantic"
)

// User represents a user account. Fully semantic with JSON-LD support
// (@context, @type) and CouchDB-compatible with _id/_rev fields.
type User struct {
	Context string `json:"@context,omitempty"`
	Type    string `json:"@type,omitempty"`

	ID       string `json:"_id,omitempty"`
	Rev      string `json:"_rev,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`

	PasswordHash string   `json:"password_hash,omitempty"`
	Roles        []string `json:"roles"`

	Enabled            bool       `json:"enabled"`
	Locked             bool       `json:"locked"`
	LockedAt           *time.Time `json:"locked_at,omitempty"`
	MustChangePassword bool       `json:"must_change_password"`
	FailedLogins       int        `json:"failed_logins"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// UserResponse is User with sensitive fields (password hash) removed,
// suitable for returning from an API handler.
type UserResponse struct {
	ID          string                 `json:"id"`
	Username    string                 `json:"username"`
	Email       string                 `json:"email,omitempty"`
	Roles       []string               `json:"roles"`
	Enabled     bool                   `json:"enabled"`
	Locked      bool                   `json:"locked"`
	Name        string                 `json:"name,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	LastLoginAt *time.Time             `json:"last_login_at,omitempty"`
	Context     string                 `json:"@context,omitempty"`
	Type        string                 `json:"@type,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ToResponse converts User to UserResponse, dropping the password hash.
func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Roles:       u.Roles,
		Enabled:     u.Enabled,
		Locked:      u.Locked,
		Name:        u.Name,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		LastLoginAt: u.LastLoginAt,
		Context:     u.Context,
		Type:        u.Type,
		Metadata:    u.Metadata,
	}
}

// CreateUserRequest is the bootstrap-account creation payload (used by
// the collabd create-admin CLI command).
type CreateUserRequest struct {
	Username           string   `json:"username"`
	Email              string   `json:"email,omitempty"`
	Password           string   `json:"password"`
	Name               string   `json:"name,omitempty"`
	Roles              []string `json:"roles,omitempty"`
	MustChangePassword bool     `json:"must_change_password,omitempty"`
}

// RefreshToken represents a refresh token for token rotation. Token
// stores only the bcrypt hash of the opaque secret half; the record ID
// itself is the lookup key (see authService.GenerateTokenPair).
type RefreshToken struct {
	Context string `json:"@context,omitempty"`
	Type    string `json:"@type,omitempty"`

	ID     string `json:"_id,omitempty"`
	Rev    string `json:"_rev,omitempty"`
	UserID string `json:"user_id"`

	Token      string     `json:"token"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// AuditLog records one auth-relevant event (login, logout, user
// creation, password change) with both legacy flat fields and the
// canonical JSON-LD agent/error shape.
type AuditLog struct {
	Context      string                  `json:"@context,omitempty"`
	Type         string                  `json:"@type,omitempty"`
	Name         string                  `json:"name,omitempty"`
	ActionStatus string                  `json:"actionStatus,omitempty"`
	StartTime    time.Time               `json:"startTime,omitempty"`
	Agent        *semantic.SemanticAgent `json:"agent,omitempty"`
	Error        *semantic.SemanticError `json:"error,omitempty"`
	Properties   map[string]interface{}  `json:"additionalProperty,omitempty"`

	ID  string `json:"_id,omitempty"`
	Rev string `json:"_rev,omitempty"`

	Timestamp    time.Time `json:"timestamp"`
	UserID       string    `json:"user_id,omitempty"`
	Username     string    `json:"username,omitempty"`
	Action       string    `json:"action"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// AuthResult is what a successful Login returns.
type AuthResult struct {
	User         *User     `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TokenPair is an access token and the opaque refresh token paired with
// it.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Standard roles.
const (
	RoleAdmin  = "admin"
	RoleUser   = "user"
	RoleViewer = "viewer"
	RoleAgent  = "agent"
)
