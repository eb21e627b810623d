package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/chat-platform/internal/chat"
)

// Claims carries the identity the chat core routes on.
type Claims struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWT{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (j *JWT) Sign(username, email string) (string, error) {
	now := j.now()
	claims := Claims{
		Username: username,
		Email:    email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Verify implements chat.Verifier. Every parse, signature or expiry failure
// is reported as chat.ErrAuthInvalid.
func (j *JWT) Verify(_ context.Context, token string) (chat.Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return chat.Identity{}, fmt.Errorf("%w: missing token", chat.ErrAuthInvalid)
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrAuthInvalid, err)
	}
	if !parsed.Valid || claims.Username == "" {
		return chat.Identity{}, fmt.Errorf("%w: invalid claims", chat.ErrAuthInvalid)
	}
	return chat.Identity{Username: claims.Username, Email: claims.Email}, nil
}

// IsAuthInvalid reports whether err came from Verify.
func IsAuthInvalid(err error) bool {
	return errors.Is(err, chat.ErrAuthInvalid)
}
