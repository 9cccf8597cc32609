package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	issuer = "qrtrackr"

	// TokenDuration is how long a session stays valid after login.
	TokenDuration = 24 * time.Hour

	devSecret = "qrtrackr-dev-secret-change-in-production"
)

// Claims identify the user behind a session.
type Claims struct {
	UserID uint   `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// secret is read on every use so JWT_SECRET can change between tests.
func secret() []byte {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte(devSecret)
}

func registered(lifetime time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
	}
}

func sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret())
}

// GenerateToken signs a session for the given user.
func GenerateToken(userID uint, email string, role string) (string, error) {
	return sign(&Claims{
		UserID:           userID,
		Email:            email,
		Role:             role,
		RegisteredClaims: registered(TokenDuration),
	})
}

// ValidateToken returns the claims of a valid session token.
func ValidateToken(tokenString string) (*Claims, error) {
	var claims Claims
	if err := parse(tokenString, &claims); err != nil {
		return nil, err
	}
	// nonces are signed with the same secret but carry no user_id
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func parse(tokenString string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return secret(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	default:
		return ErrInvalidToken
	}
}
