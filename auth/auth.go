package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evalgo/flowcollab/semantic"
)

// AuthService is collabd's bootstrap/admin-account authentication
// surface: password login, JWT issuance and validation, refresh-token
// rotation, password changes, and creating the handful of accounts
// collabd itself needs (the bootstrap admin, service accounts). It is
// not a general user-management API — there is no list/update/delete
// surface because nothing in this system calls one.
type AuthService interface {
	Login(username, password string) (*AuthResult, error)
	Logout(refreshToken string) error

	GenerateToken(user *User) (string, error)
	ValidateToken(token string) (*Claims, error)
	GenerateTokenPair(user *User) (*TokenPair, error)
	RefreshToken(refreshToken string) (*TokenPair, error)

	ChangePassword(userID, currentPassword, newPassword string) error
	CreateUser(req CreateUserRequest) (*User, error)
}

// authService implements AuthService.
type authService struct {
	config       *Config
	store        UserStore
	tokenService *TokenService
}

// NewAuthService creates a new auth service.
func NewAuthService(config *Config, store UserStore) AuthService {
	if config == nil {
		config = DefaultConfig()
	}

	tokenService := NewTokenService(
		config.JWTSecret,
		config.JWTExpiration,
		config.RefreshTokenExpiration,
	)

	return &authService{
		config:       config,
		store:        store,
		tokenService: tokenService,
	}
}

// Login authenticates a user and returns a token pair. Failed attempts
// accumulate on the user record; once they reach MaxFailedAttempts the
// account locks for LockoutDuration, after which the next attempt
// (successful or not) clears the lock.
func (s *authService) Login(username, password string) (*AuthResult, error) {
	user, err := s.store.GetUserByUsername(username)
	if err != nil {
		s.audit("login_failed", username, "", false, "user not found")
		return nil, ErrInvalidCredentials
	}

	if user.Locked {
		if user.LockedAt != nil && time.Since(*user.LockedAt) > s.config.LockoutDuration {
			user.Locked = false
			user.FailedLogins = 0
			user.LockedAt = nil
		} else {
			s.audit("login_failed", username, user.ID, false, "account locked")
			return nil, ErrAccountLocked
		}
	}

	if !user.Enabled {
		s.audit("login_failed", username, user.ID, false, "account disabled")
		return nil, ErrAccountDisabled
	}

	if err := ValidatePassword(password, user.PasswordHash); err != nil {
		user.FailedLogins++
		if user.FailedLogins >= s.config.MaxFailedAttempts {
			user.Locked = true
			now := time.Now()
			user.LockedAt = &now
		}
		if uerr := s.store.UpdateUser(user); uerr != nil {
			return nil, fmt.Errorf("failed to record failed login: %w", uerr)
		}
		s.audit("login_failed", username, user.ID, false, "invalid password")
		return nil, ErrInvalidCredentials
	}

	tokenPair, err := s.GenerateTokenPair(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate tokens: %w", err)
	}

	user.FailedLogins = 0
	user.Locked = false
	user.LockedAt = nil
	now := time.Now()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.store.UpdateUser(user); err != nil {
		return nil, fmt.Errorf("failed to update user after login: %w", err)
	}

	s.audit("login", username, user.ID, true, "")

	return &AuthResult{
		User:         user,
		AccessToken:  tokenPair.AccessToken,
		RefreshToken: tokenPair.RefreshToken,
		ExpiresAt:    tokenPair.ExpiresAt,
	}, nil
}

// Logout revokes the single refresh token the caller presents, so other
// sessions for the same user are unaffected.
func (s *authService) Logout(refreshToken string) error {
	id, _, ok := strings.Cut(refreshToken, ".")
	if !ok {
		return ErrInvalidToken
	}
	if err := s.store.RevokeRefreshToken(id); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	s.audit("logout", "", "", true, "")
	return nil
}

// GenerateToken generates a JWT access token for a user.
func (s *authService) GenerateToken(user *User) (string, error) {
	return s.tokenService.GenerateToken(user)
}

// ValidateToken validates a JWT token and returns its claims.
func (s *authService) ValidateToken(token string) (*Claims, error) {
	return s.tokenService.ValidateToken(token)
}

// GenerateTokenPair generates both access and refresh tokens. The
// opaque refresh token handed to the caller is "{recordID}.{secret}" so
// a later RefreshToken call can locate the stored record without a
// table scan; only the secret half needs to stay unguessable, so only
// it is hashed for storage comparison.
func (s *authService) GenerateTokenPair(user *User) (*TokenPair, error) {
	tokenPair, err := s.tokenService.GenerateTokenPair(user)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	hashedToken, err := HashRefreshToken(tokenPair.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("failed to hash refresh token: %w", err)
	}

	refreshToken := &RefreshToken{
		ID:        id,
		UserID:    user.ID,
		Token:     hashedToken,
		ExpiresAt: time.Now().Add(s.config.RefreshTokenExpiration),
		CreatedAt: time.Now(),
		Revoked:   false,
	}

	if err := s.store.SaveRefreshToken(refreshToken); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	tokenPair.RefreshToken = id + "." + tokenPair.RefreshToken
	return tokenPair, nil
}

// RefreshToken exchanges a refresh token for a new token pair, rotating
// the refresh token (the old one is revoked so it cannot be replayed).
func (s *authService) RefreshToken(refreshToken string) (*TokenPair, error) {
	id, secret, ok := strings.Cut(refreshToken, ".")
	if !ok {
		return nil, ErrInvalidToken
	}

	stored, err := s.store.GetRefreshToken(id)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if stored.Revoked {
		return nil, ErrInvalidToken
	}
	if time.Now().After(stored.ExpiresAt) {
		return nil, ErrExpiredToken
	}
	if err := ValidateRefreshToken(secret, stored.Token); err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.store.GetUser(stored.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	if err := s.store.RevokeRefreshToken(stored.ID); err != nil {
		return nil, fmt.Errorf("failed to revoke used refresh token: %w", err)
	}

	return s.GenerateTokenPair(user)
}

// ChangePassword changes a user's password after verifying the current
// one.
func (s *authService) ChangePassword(userID, currentPassword, newPassword string) error {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return err
	}

	if err := ValidatePassword(currentPassword, user.PasswordHash); err != nil {
		s.audit("change_password_failed", user.Username, userID, false, "invalid current password")
		return ErrInvalidCredentials
	}

	if err := CheckPasswordStrength(newPassword, s.config.PasswordMinLength, s.config.PasswordRequireStrong); err != nil {
		return err
	}

	hashedPassword, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = hashedPassword
	user.MustChangePassword = false
	user.UpdatedAt = time.Now()

	if err := s.store.UpdateUser(user); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	s.audit("change_password", user.Username, userID, true, "")
	return nil
}

// CreateUser creates a new account. Roles default to config.DefaultRole
// and must each appear in config.AvailableRoles.
func (s *authService) CreateUser(req CreateUserRequest) (*User, error) {
	if err := ValidateUsername(req.Username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return nil, err
	}
	if err := CheckPasswordStrength(req.Password, s.config.PasswordMinLength, s.config.PasswordRequireStrong); err != nil {
		return nil, err
	}

	roles := req.Roles
	if len(roles) == 0 {
		roles = []string{s.config.DefaultRole}
	}
	for _, role := range roles {
		if !roleAllowed(role, s.config.AvailableRoles) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
		}
	}

	if _, err := s.store.GetUserByUsername(req.Username); err == nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &User{
		ID:                 uuid.New().String(),
		Username:           req.Username,
		Email:              req.Email,
		PasswordHash:       hashedPassword,
		Roles:              roles,
		Enabled:            true,
		MustChangePassword: req.MustChangePassword,
		Name:               req.Name,
		CreatedAt:          now,
		UpdatedAt:          now,
		Context:            "https://schema.org",
		Type:               "Person",
	}

	if err := s.store.CreateUser(user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.audit("create_user", req.Username, user.ID, true, "")
	return user, nil
}

func roleAllowed(role string, available []string) bool {
	for _, a := range available {
		if a == role {
			return true
		}
	}
	return false
}

// audit records an audit entry, unless AuditEnabled is off. Failures to
// persist the entry are swallowed: a broken audit sink must not block
// authentication.
func (s *authService) audit(action, username, userID string, success bool, message string) {
	if !s.config.AuditEnabled {
		return
	}

	now := time.Now()
	actionStatus := "CompletedActionStatus"
	if !success {
		actionStatus = "FailedActionStatus"
	}

	log := &AuditLog{
		Context:      "https://schema.org",
		Type:         "AssessAction",
		Name:         action,
		ActionStatus: actionStatus,
		StartTime:    now,

		ID: uuid.New().String(),

		Timestamp:    now,
		UserID:       userID,
		Username:     username,
		Action:       action,
		Success:      success,
		ErrorMessage: message,
	}

	if userID != "" || username != "" {
		log.Agent = &semantic.SemanticAgent{
			Type: "Person",
			Name: username,
		}
		log.Properties = map[string]interface{}{"userId": userID}
	}

	if !success && message != "" {
		log.Error = &semantic.SemanticError{
			Type:    "Error",
			Message: message,
		}
	}

	_ = s.store.SaveAuditLog(log)
}
