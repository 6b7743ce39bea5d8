package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	stateIssuer = "genx"
	stateTTL    = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner issues and verifies the OAuth state parameter as a short-lived
// HS256 token so the callback can be checked without server-side storage.
type StateSigner struct {
	secret []byte
	now    func() time.Time
}

// NewStateSigner returns a signer keyed with secret.
func NewStateSigner(secret string) *StateSigner {
	return &StateSigner{secret: []byte(secret), now: time.Now}
}

// Issue returns a signed state token and its nonce.
func (s *StateSigner) Issue() (token, nonce string, err error) {
	now := s.now()
	nonce = uuid.NewString()
	claims := jwt.RegisteredClaims{
		ID:        nonce,
		Issuer:    stateIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", "", fmt.Errorf("sign state: %w", err)
	}
	return token, nonce, nil
}

// Verify checks the signature, issuer and expiry of token and returns its nonce.
func (s *StateSigner) Verify(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	return claims.ID, nil
}
