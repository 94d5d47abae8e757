package auth

// UserStore defines the persistence boundary authService needs: account
// lookup/creation, refresh-token rotation, and audit logging. It does
// not carry the generic list/search/email-lookup surface a full user
// management API would — nothing in collabd calls those today, and a
// store implementation should not have to support operations no
// caller exercises.
type UserStore interface {
	CreateUser(user *User) error
	GetUser(id string) (*User, error)
	GetUserByUsername(username string) (*User, error)
	UpdateUser(user *User) error

	SaveRefreshToken(token *RefreshToken) error
	GetRefreshToken(id string) (*RefreshToken, error)
	RevokeRefreshToken(id string) error
	DeleteExpiredRefreshTokens() error

	SaveAuditLog(log *AuditLog) error
}
