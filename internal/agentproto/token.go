package agentproto

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds the lifetime of a signed command token.
const DefaultTokenTTL = 5 * time.Minute

// ErrMissingConnectionToken is returned when a verified token names no connection.
var ErrMissingConnectionToken = errors.New("token carries no connection token")

// Claims identifies the agent-side connection a command runs against.
type Claims struct {
	ConnectionToken string `json:"connectionToken"`
	jwt.RegisteredClaims
}

// SignToken issues an HS256 token for connToken valid for ttl.
func SignToken(secret []byte, connToken string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		ConnectionToken: connToken,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}

// VerifyToken checks the signature and expiry of raw and returns its claims.
func VerifyToken(secret []byte, raw string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.ConnectionToken == "" {
		return nil, ErrMissingConnectionToken
	}
	return &claims, nil
}
