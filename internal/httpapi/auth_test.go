package httpapi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"homemart/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
	failing bool
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errors.New("user store offline")
	}
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: domain.RoleAdmin, Active: true},
		},
	}

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)
	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	assert.True(t, isPasswordHash(users.users["admin"].Password))
	assert.Equal(t, 1, users.updates)
}

func TestLoginIssuesTokenWithRole(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"vendedor": {Username: "vendedor", Password: mustHashPassword(t, "secreto"), Role: domain.RoleSeller, Active: true},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: " VENDEDOR ", Password: "secreto"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSeller, resp.Role)

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "vendedor", Role: domain.RoleSeller}, actor)
}

func TestLoginRejections(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"ana":  {Username: "ana", Password: mustHashPassword(t, "clave-ana"), Role: domain.RoleSeller, Active: true},
			"luis": {Username: "luis", Password: mustHashPassword(t, "clave-luis"), Role: domain.RoleSeller, Active: false},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ana", Password: "wrong"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "nadie", Password: "x"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "luis", Password: "clave-luis"})
	assert.ErrorIs(t, err, errInactiveAccount)
}

func TestLoginKeepsCachedUsersWhenStoreFails(t *testing.T) {
	users := &userStoreStub{
		users: map[string]domain.UserAccount{
			"ana": {Username: "ana", Password: mustHashPassword(t, "clave-ana"), Role: domain.RoleSeller, Active: true},
		},
	}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, users)
	users.failing = true

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "ana", Password: "clave-ana"})
	assert.NoError(t, err)
}

func TestParseTokenRejectsForeignTokens(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, nil)

	other := NewAuthManager(context.Background(), "another-secret", time.Hour, nil)
	foreign, err := other.sign("admin", domain.RoleAdmin, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(foreign)
	assert.Error(t, err)

	expired, err := manager.sign("admin", domain.RoleAdmin, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	assert.Error(t, err)

	wrongIssuer := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "someone-else",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: domain.RoleAdmin,
	})
	signed, err := wrongIssuer.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(signed)
	assert.Error(t, err)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "admin", Issuer: tokenIssuer},
		Role:             domain.RoleAdmin,
	})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = manager.ParseToken(unsigned)
	assert.Error(t, err)
}
