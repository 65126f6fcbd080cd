// Package tokens issues and validates the short-lived subscribe tokens that
// bind a scan session's progress stream to the caller that started it.
// /scan-network hands the token out; /scan-results demands it back, so
// progress reaches exactly the initiating tab and nobody else.
package tokens

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenTTL comfortably outlives the longest plausible scan (a /16 at the
// standard probe timeout); an expired token only costs a re-poll of
// /scan-status.
const TokenTTL = 4 * time.Hour

// Claims carries the session the token subscribes to.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager signs and validates session tokens with an HS256 key generated at
// startup. The key is process-local on purpose: tokens must not survive a
// connector restart, because the sessions they name do not either.
type Manager struct {
	signingKey []byte
}

// NewManager generates a fresh signing key.
func NewManager() (*Manager, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Manager{signingKey: key}, nil
}

// NewManagerWithKey uses a fixed key; tests use it to mint tokens for a
// known manager.
func NewManagerWithKey(key []byte) *Manager {
	return &Manager{signingKey: key}
}

// GenerateSessionToken mints the subscribe token for one session.
func (m *Manager) GenerateSessionToken(sessionID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(), // jti
			Subject:   sessionID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"

	return token.SignedString(m.signingKey)
}

// ValidateSessionToken checks the signature and that the token names the
// expected session.
func (m *Manager) ValidateSessionToken(tokenString, sessionID string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.signingKey, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SessionID != sessionID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
