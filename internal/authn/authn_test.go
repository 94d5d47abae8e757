package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalgo/flowcollab/auth"
)

type memStore struct {
	users map[string]*auth.User
}

func newMemStore() *memStore { return &memStore{users: make(map[string]*auth.User)} }

func (m *memStore) CreateUser(u *auth.User) error         { m.users[u.ID] = u; return nil }
func (m *memStore) GetUser(id string) (*auth.User, error) { return m.users[id], nil }
func (m *memStore) GetUserByUsername(u string) (*auth.User, error) {
	for _, usr := range m.users {
		if usr.Username == u {
			return usr, nil
		}
	}
	return nil, auth.ErrUserNotFound
}
func (m *memStore) UpdateUser(u *auth.User) error                         { m.users[u.ID] = u; return nil }
func (m *memStore) SaveRefreshToken(t *auth.RefreshToken) error           { return nil }
func (m *memStore) GetRefreshToken(id string) (*auth.RefreshToken, error) { return nil, nil }
func (m *memStore) RevokeRefreshToken(id string) error                   { return nil }
func (m *memStore) DeleteExpiredRefreshTokens() error                    { return nil }
func (m *memStore) SaveAuditLog(log *auth.AuditLog) error                { return nil }

func newTestAuthenticator(t *testing.T) (*Authenticator, *auth.User) {
	t.Helper()
	store := newMemStore()
	cfg := auth.DefaultConfig()
	cfg.JWTSecret = "test-secret-at-least-32-bytes-long!!"
	svc := auth.NewAuthService(cfg, store)

	hash, err := auth.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	user := &auth.User{
		ID: "u1", Username: "ada", PasswordHash: hash, Roles: []string{"pro"},
		Enabled: true, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateUser(user))

	return New(svc), user
}

func TestAuthenticate_ValidToken(t *testing.T) {
	authr, user := newTestAuthenticator(t)
	token, err := authr.svc.GenerateToken(user)
	require.NoError(t, err)

	id, err := authr.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "ada", id.Username)
	assert.Equal(t, "pro", id.Tier)
	assert.True(t, id.HasRole("pro"))
}

func TestAuthenticate_RejectsMalformedToken(t *testing.T) {
	authr, _ := newTestAuthenticator(t)
	_, err := authr.Authenticate("not-a-real-token")
	assert.Error(t, err)
}

func TestAuthenticate_RejectsEmptyToken(t *testing.T) {
	authr, _ := newTestAuthenticator(t)
	_, err := authr.Authenticate("")
	assert.Error(t, err)
}
