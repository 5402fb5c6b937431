/* JWT issuing and validation for the admin API */

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const issuerName = "grader-etl-api"

var ErrEmptySecret = errors.New("JWT secret is empty")

// Claims carries the admin username in the JWT payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Issuer signs and validates HS256 tokens with one shared secret.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{key: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// GenerateToken issues a token for username valid for the issuer's TTL.
func (i *Issuer) GenerateToken(username string) (string, error) {
	now := i.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuerName,
			Subject:   "admin_auth_token",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("GenerateToken(): %w", err)
	}
	return tokenString, nil
}

// ValidateToken parses tokenString and checks its signature and expiry.
// Expired tokens return an error matching jwt.ErrTokenExpired.
func (i *Issuer) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
