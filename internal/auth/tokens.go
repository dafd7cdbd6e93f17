// Package auth validates the session tokens presented at handshake time.
// Token issuance belongs to the credential collaborator; the server only
// verifies that a token binds to the session it claims.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Claims binds a token to exactly one session.
type Claims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

// Verifier checks handshake tokens. Implementations must be safe for use
// from concurrent connection handlers.
type Verifier interface {
	Verify(token, sessionID string) error
}

// Issuer mints session tokens. The HMAC implementation below is the dev
// default; production deployments plug in the external credential service.
type Issuer interface {
	Issue(sessionID string, ttl time.Duration) (string, error)
}

// HMACTokens signs and verifies HS256 session tokens with a shared secret.
type HMACTokens struct {
	secret []byte
}

// NewHMACTokens constructs a token signer/verifier from a shared secret.
func NewHMACTokens(secret string) *HMACTokens {
	return &HMACTokens{secret: []byte(secret)}
}

// Issue mints a token whose subject is the session ID.
func (h *HMACTokens) Issue(sessionID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "vigil",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.secret)
}

// Verify parses the token and checks the session binding.
func (h *HMACTokens) Verify(tokenString, sessionID string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return h.secret, nil
	})
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return ErrInvalidToken
	}
	if claims.SessionID != sessionID {
		return ErrInvalidToken
	}
	return nil
}
