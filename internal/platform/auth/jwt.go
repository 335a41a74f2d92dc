package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hookrelay/internal/platform/config"
)

const issuer = "hookrelay"

const (
	ScopeRead  = "read"
	ScopeWrite = "write"
)

type Claims struct {
	Scopes []string `json:"scp,omitempty"`
	jwt.RegisteredClaims
}

// Allows reports whether the token grants scope. A token without scopes
// grants everything, and write implies read.
func (c *Claims) Allows(scope string) bool {
	if len(c.Scopes) == 0 {
		return true
	}
	for _, s := range c.Scopes {
		if s == scope || (s == ScopeWrite && scope == ScopeRead) {
			return true
		}
	}
	return false
}

type TokenService struct {
	config config.AuthConfig
}

func NewTokenService(cfg config.AuthConfig) *TokenService {
	return &TokenService{config: cfg}
}

// GenerateToken issues a bearer token for subject, valid for the configured
// TTL.
func (s *TokenService) GenerateToken(subject string, scopes ...string) (string, error) {
	if s.config.Secret == "" {
		return "", errors.New("auth secret is not configured")
	}

	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}

func (s *TokenService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(issuer))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
