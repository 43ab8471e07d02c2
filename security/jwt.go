// Package security issues and validates the JWTs that gate access to the
// desk API. Customers get short-lived chat tokens scoped to their own
// thread; agents get console tokens identifying them for claim operations.
package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ClaimThreadID is the custom claim carrying the chat thread a customer
// token is scoped to.
const ClaimThreadID = "thread_id"

// ClaimDisplayName is the custom claim carrying the user's display name.
const ClaimDisplayName = "name"

// DefaultTokenLifetime is how long issued tokens stay valid.
const DefaultTokenLifetime = 24 * time.Hour

type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
	}
}

// GenerateToken mints a plain token with just a subject, used for agent
// console sessions.
func (j *JWTService) GenerateToken(userID string, expiration time.Duration) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(expiration)).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	return j.sign(token)
}

// GenerateChatToken mints a customer token scoped to one chat thread. The
// thread ID travels as a claim so the API can reject access to any other
// thread without a store lookup.
func (j *JWTService) GenerateChatToken(userID, displayName, threadID string, expiration time.Duration) (string, error) {
	now := time.Now()

	token, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(expiration)).
		Claim(ClaimThreadID, threadID).
		Claim(ClaimDisplayName, displayName).
		Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	return j.sign(token)
}

func (j *JWTService) sign(token jwt.Token) (string, error) {
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateToken parses and verifies a token, checking signature and
// expiration.
func (j *JWTService) ValidateToken(tokenString string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return token, nil
}

// ThreadID extracts the thread scope claim from a validated token.
// Returns an empty string for tokens without a thread scope.
func ThreadID(token jwt.Token) string {
	if v, ok := token.Get(ClaimThreadID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
