// Package mw contains HTTP middleware for the merenda-api.
package mw

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

// OperatorClaimsKey is the context key for operator claims.
const OperatorClaimsKey ContextKey = "operator_claims"

// operatorRoles are the JWT roles allowed to call the control plane.
var operatorRoles = []string{"operator", "admin"}

// OperatorClaims identifies the platform operator making a request.
type OperatorClaims struct {
	Subject string // uniquely identifies the operator (sub claim)
	Role    string // "operator" or "admin"
}

// GetOperatorClaims extracts operator claims from the context, or nil.
func GetOperatorClaims(ctx context.Context) *OperatorClaims {
	claims, _ := ctx.Value(OperatorClaimsKey).(*OperatorClaims)
	return claims
}

// VerifyOperatorToken validates an HS256 bearer token and returns the
// operator claims. Tokens without an accepted role are rejected.
func VerifyOperatorToken(tokenString, secret string) (*OperatorClaims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	subject, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	if !slices.Contains(operatorRoles, role) {
		return nil, fmt.Errorf("role %q is not an operator role", role)
	}

	return &OperatorClaims{Subject: subject, Role: role}, nil
}

// IssueOperatorToken signs an HS256 token for an operator. Used by tests and
// local tooling; production tokens come from the platform's identity service.
func IssueOperatorToken(subject, role, secret string, expiry time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(expiry).Unix(),
	})
	return token.SignedString([]byte(secret))
}
