package jwt

import (
	"testing"
	"time"

	"github.com/lotledger/lotledger-backend/pkg/actor"
	"github.com/lotledger/lotledger-backend/pkg/config"
	apperrors "github.com/lotledger/lotledger-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager() *Manager {
	return NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "stockledger"})
}

func TestManager_IssueAndValidate(t *testing.T) {
	m := newManager()

	token, err := m.Issue(&actor.Actor{ID: "user-7", Email: "clerk@example.com", Role: "warehouse"}, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.Actor().ID)
	assert.Equal(t, "warehouse", claims.Actor().Role)
}

func TestManager_ExpiredToken(t *testing.T) {
	m := newManager()
	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.Issue(&actor.Actor{ID: "user-7"}, time.Minute)
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
}

func TestManager_WrongSecret(t *testing.T) {
	token, err := NewManager(&config.JWTConfig{Secret: "other", Issuer: "stockledger"}).
		Issue(&actor.Actor{ID: "user-7"}, time.Minute)
	require.NoError(t, err)

	_, err = newManager().ValidateAccessToken(token)
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}

func TestManager_WrongIssuer(t *testing.T) {
	token, err := NewManager(&config.JWTConfig{Secret: "test-secret", Issuer: "someone-else"}).
		Issue(&actor.Actor{ID: "user-7"}, time.Minute)
	require.NoError(t, err)

	_, err = newManager().ValidateAccessToken(token)
	assert.ErrorIs(t, err, apperrors.ErrTokenInvalid)
}
