package auth

import (
	"fmt"
	"time"

	"github.com/evalgo/flowcollab/common"
	"github.com/evalgo/flowcollab/db"
)

// CouchDBUserStore implements UserStore for CouchDB with JSON-LD support.
type CouchDBUserStore struct {
	service *db.CouchDBService
}

// NewCouchDBUserStore creates a new CouchDB-backed user store.
func NewCouchDBUserStore(service *db.CouchDBService) UserStore {
	return &CouchDBUserStore{service: service}
}

// CreateUser creates a new user in CouchDB.
func (s *CouchDBUserStore) CreateUser(user *User) error {
	if user.Context == "" {
		user.Context = "https://schema.org"
	}
	if user.Type == "" {
		user.Type = "Person"
	}

	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	resp, err := s.service.SaveGenericDocument(user)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	user.ID = resp.ID
	user.Rev = resp.Rev
	return nil
}

// GetUser retrieves a user by ID.
func (s *CouchDBUserStore) GetUser(id string) (*User, error) {
	var user User
	if err := s.service.GetGenericDocument(id, &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername retrieves a user by username using a semantic query.
func (s *CouchDBUserStore) GetUserByUsername(username string) (*User, error) {
	query := db.NewQueryBuilder().
		Where("@type", "$eq", "Person").
		And().
		Where("username", "$eq", username).
		Limit(1).
		Build()

	users, err := db.FindTyped[User](s.service, query)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if len(users) == 0 {
		return nil, ErrUserNotFound
	}
	return &users[0], nil
}

// UpdateUser updates an existing user in CouchDB, using _rev for
// optimistic locking.
func (s *CouchDBUserStore) UpdateUser(user *User) error {
	if user.Context == "" {
		user.Context = "https://schema.org"
	}
	if user.Type == "" {
		user.Type = "Person"
	}
	user.UpdatedAt = time.Now()

	resp, err := s.service.SaveGenericDocument(user)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	user.Rev = resp.Rev
	return nil
}

// SaveRefreshToken saves a refresh token to CouchDB.
func (s *CouchDBUserStore) SaveRefreshToken(token *RefreshToken) error {
	if token.Context == "" {
		token.Context = "https://schema.org"
	}
	if token.Type == "" {
		token.Type = "RefreshToken"
	}

	resp, err := s.service.SaveGenericDocument(token)
	if err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	token.ID = resp.ID
	token.Rev = resp.Rev
	return nil
}

// GetRefreshToken retrieves a refresh token by ID.
func (s *CouchDBUserStore) GetRefreshToken(id string) (*RefreshToken, error) {
	var token RefreshToken
	if err := s.service.GetGenericDocument(id, &token); err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return &token, nil
}

// RevokeRefreshToken marks a refresh token revoked so it can no longer
// be redeemed.
func (s *CouchDBUserStore) RevokeRefreshToken(id string) error {
	token, err := s.GetRefreshToken(id)
	if err != nil {
		return err
	}

	token.Revoked = true
	resp, err := s.service.SaveGenericDocument(token)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	token.Rev = resp.Rev
	return nil
}

// DeleteExpiredRefreshTokens deletes all expired refresh tokens. It
// continues past individual delete failures so one bad record doesn't
// block the rest of the sweep.
func (s *CouchDBUserStore) DeleteExpiredRefreshTokens() error {
	now := time.Now()

	query := db.NewQueryBuilder().
		Where("@type", "$eq", "RefreshToken").
		And().
		Where("expires_at", "$lt", now.Format(time.RFC3339)).
		Build()

	tokens, err := db.FindTyped[RefreshToken](s.service, query)
	if err != nil {
		return fmt.Errorf("failed to find expired tokens: %w", err)
	}

	for _, token := range tokens {
		if err := s.service.DeleteDocument(token.ID, token.Rev); err != nil {
			common.Logger.WithError(err).Warnf("failed to delete expired refresh token %s", token.ID)
		}
	}

	return nil
}

// SaveAuditLog saves an audit log entry to CouchDB.
func (s *CouchDBUserStore) SaveAuditLog(log *AuditLog) error {
	if log.Context == "" {
		log.Context = "https://schema.org"
	}
	if log.Type == "" {
		log.Type = "AuditLog"
	}
	if log.ID == "" {
		log.ID = fmt.Sprintf("audit-%d", time.Now().UnixNano())
	}

	if _, err := s.service.SaveGenericDocument(log); err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}
	return nil
}
