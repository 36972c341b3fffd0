package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles a user may hold.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Token is a signed access token and its expiry.
type Token struct {
	AccessToken string    `json:"token"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Claims represents JWT payload.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token holder is an admin.
func (c Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// Issuer signs access tokens for users.
type Issuer struct {
	Name string
	Key  string
	TTL  time.Duration
}

// Issue issues a signed access token.
func (i Issuer) Issue(subject, role string) (Token, error) {
	now := time.Now()
	exp := now.Add(i.TTL)

	claims := Claims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.Name,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.Key))
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	return *claims, nil
}
