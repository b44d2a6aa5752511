package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lotledger/lotledger-backend/pkg/actor"
	"github.com/lotledger/lotledger-backend/pkg/config"
	apperrors "github.com/lotledger/lotledger-backend/pkg/errors"
)

// Claims are the access token claims the stock service understands
type Claims struct {
	jwt.RegisteredClaims
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Actor converts the token subject into the movement actor
func (c *Claims) Actor() *actor.Actor {
	return &actor.Actor{
		ID:    c.Subject,
		Name:  c.Name,
		Email: c.Email,
		Role:  c.Role,
	}
}

// Manager signs and verifies HS256 access tokens
type Manager struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewManager creates a new JWT manager
func NewManager(cfg *config.JWTConfig) *Manager {
	return &Manager{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// Issue signs an access token for a, valid for ttl. Used by back-office
// tooling and tests; interactive login lives outside this service.
func (m *Manager) Issue(a *actor.Actor, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   a.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		Name:  a.Name,
		Email: a.Email,
		Role:  a.Role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// ValidateAccessToken verifies signature, issuer and expiry, returning the claims
func (m *Manager) ValidateAccessToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperrors.TokenExpired()
		}
		return nil, apperrors.TokenInvalid()
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, apperrors.TokenInvalid()
	}

	return claims, nil
}

// ValidateBearer satisfies httputil.TokenValidator
func (m *Manager) ValidateBearer(token string) (*actor.Actor, error) {
	claims, err := m.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return claims.Actor(), nil
}
