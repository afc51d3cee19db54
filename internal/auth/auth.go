// Package auth issues and verifies operator JWTs shared by the HTTP, gRPC and Thrift transports.
package auth

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"transit-tracker/internal/domain"
)

const issuer = "transit-tracker"

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string, ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// IssueToken signs a token for an operator. Unknown roles are rejected.
func (a *Authenticator) IssueToken(name, role string) (string, time.Time, error) {
	name = strings.TrimSpace(name)
	if name == "" || !domain.ValidateRole(role) {
		return "", time.Time{}, domain.Invalid(domain.CodeMissingField, "name and a known role are required",
			map[string]any{"role": role})
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	str, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return str, exp, nil
}

func (a *Authenticator) ParseToken(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// Authorize checks an Authorization header value and the caller's role. It returns
// domain.ErrUnauthorized for a missing or bad token and domain.ErrForbidden for a role
// outside allowed.
func (a *Authenticator) Authorize(header string, allowed ...string) (*Claims, error) {
	token := ExtractBearerToken(header)
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := a.ParseToken(token)
	if err != nil {
		return nil, domain.ErrUnauthorized
	}
	if len(allowed) > 0 && !slices.Contains(allowed, claims.Role) {
		return nil, domain.ErrForbidden
	}
	return claims, nil
}

func ExtractBearerToken(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type ctxKey struct{}

func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	v := ctx.Value(ctxKey{})
	claims, ok := v.(*Claims)
	return claims, ok
}

// Actor names the caller for audit fields such as changed_by.
func Actor(ctx context.Context) string {
	if claims, ok := ClaimsFromContext(ctx); ok && claims.Subject != "" {
		return claims.Subject
	}
	return "system"
}
