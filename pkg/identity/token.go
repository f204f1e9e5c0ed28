package identity

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
)

const tokenIssuer = "cleargate/identity"

// Claims binds an acting id to its role and tool groups so transports can
// pass a signed token instead of a bare actor id.
type Claims struct {
	jwt.RegisteredClaims
	Role       Role     `json:"role"`
	ToolGroups []string `json:"tool_groups,omitempty"`
}

// TokenManager issues and verifies HS256 actor tokens.
type TokenManager struct {
	key []byte
}

// NewTokenManager creates a TokenManager with a shared signing key.
func NewTokenManager(key []byte) (*TokenManager, error) {
	if len(key) == 0 {
		return nil, errdefs.Validation("key", "signing key required")
	}
	return &TokenManager{key: key}, nil
}

// Issue creates a signed token for the actor, valid for the given duration.
func (tm *TokenManager) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:       actor.Role,
		ToolGroups: actor.ToolGroups,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.key)
}

// Verify parses and validates a token string, returning its claims.
func (tm *TokenManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return tm.key, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
