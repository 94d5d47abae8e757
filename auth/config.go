package auth

import "time"

// Config holds the authService's tunables: JWT lifetimes, password
// policy, account lockout thresholds, and the role set CreateUser will
// accept. There is no session/cookie config here — collabd is a bearer
// token API with no browser session to carry a cookie for.
type Config struct {
	JWTSecret              string
	JWTExpiration          time.Duration
	RefreshTokenExpiration time.Duration

	PasswordMinLength     int
	PasswordRequireStrong bool

	MaxFailedAttempts int
	LockoutDuration   time.Duration

	DefaultRole    string
	AvailableRoles []string

	AuditEnabled bool
}

// DefaultConfig returns the defaults runServer starts from before
// overriding JWTSecret from Settings.
func DefaultConfig() *Config {
	return &Config{
		JWTExpiration:          24 * time.Hour,
		RefreshTokenExpiration: 7 * 24 * time.Hour,
		PasswordMinLength:      8,
		PasswordRequireStrong:  false,
		MaxFailedAttempts:      5,
		LockoutDuration:        30 * time.Minute,
		DefaultRole:            RoleUser,
		AvailableRoles:         []string{RoleAdmin, RoleUser, RoleViewer, RoleAgent},
		AuditEnabled:           true,
	}
}
