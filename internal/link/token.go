// ABOUTME: Signed interview-link token generation and verification
// ABOUTME: Uses HS256 JWTs so dashboard links can be validated without a lookup

package link

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Signer mints and verifies interview-link tokens
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

// NewSigner creates a Signer. baseURL may be empty, in which case URL()
// returns only the bare token.
func NewSigner(secret []byte, baseURL string, ttl time.Duration) *Signer {
	return &Signer{
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}
}

// Generate creates a signed token carrying the interview id in the "sub" claim
func (s *Signer) Generate(interviewID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": interviewID,
		"iat": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing link token: %w", err)
	}
	return signed, nil
}

// URL returns the candidate-facing interview link for the given token
func (s *Signer) URL(token string) string {
	if s.baseURL == "" {
		return token
	}
	return s.baseURL + "/i/" + url.PathEscape(token)
}

// Verify validates the token and extracts the interview id from the "sub" claim
func (s *Signer) Verify(tokenString string) (interviewID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return sub, nil
}
