package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	apiContext "hookrelay/internal/api/context"
	"hookrelay/internal/pkg/errors"
	"hookrelay/internal/platform/auth"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
}

// NewAuthMiddleware returns a middleware that requires a bearer token. A nil
// token service disables the check.
func NewAuthMiddleware(tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

func (m *AuthMiddleware) enabled() bool {
	return m != nil && m.tokenSvc != nil
}

// Handle validates the bearer token and stores its claims in the request
// context.
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	if !m.enabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, msg := bearerToken(r)
		if msg != "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, msg, nil)
			return
		}

		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

// Require rejects tokens that do not grant scope. It must run after Handle.
func (m *AuthMiddleware) Require(scope string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if !m.enabled() {
			return next
		}
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
			if !ok {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing token claims", nil)
				return
			}
			if !claims.Allows(scope) {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden,
					fmt.Sprintf("Token lacks %q scope", scope), nil)
				return
			}
			next(w, r)
		}
	}
}

func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Missing authorization header"
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", "Invalid authorization header format"
	}
	return strings.TrimSpace(token), ""
}
