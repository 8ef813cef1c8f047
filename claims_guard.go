package auth

import (
	"context"
	"slices"
	"time"
)

// ClaimsDecorator enriches access tokens before they are signed. Only
// Metadata may change, identity and authorization claims are protected.
type ClaimsDecorator interface {
	Decorate(ctx context.Context, account *Account, claims *JWTClaims) error
}

// ClaimsDecoratorFunc adapts a function to ClaimsDecorator.
type ClaimsDecoratorFunc func(ctx context.Context, account *Account, claims *JWTClaims) error

// Decorate implements ClaimsDecorator.
func (f ClaimsDecoratorFunc) Decorate(ctx context.Context, account *Account, claims *JWTClaims) error {
	if f == nil {
		return nil
	}
	return f(ctx, account, claims)
}

type protectedClaims struct {
	subject   string
	issuer    string
	uid       string
	email     string
	id        string
	use       TokenUse
	activated bool
	roles     []string
	audience  []string
	expiresAt time.Time
	issuedAt  time.Time
}

func captureProtectedClaims(c *JWTClaims) protectedClaims {
	return protectedClaims{
		subject:   c.RegisteredClaims.Subject,
		issuer:    c.RegisteredClaims.Issuer,
		uid:       c.UID,
		email:     c.UserEmail,
		id:        c.RegisteredClaims.ID,
		use:       c.Use,
		activated: c.Activated,
		roles:     slices.Clone(c.RoleNames),
		audience:  slices.Clone([]string(c.RegisteredClaims.Audience)),
		expiresAt: c.Expires(),
		issuedAt:  c.IssuedAt(),
	}
}

// violation names the first protected claim that changed, or "".
func (p protectedClaims) violation(c *JWTClaims) string {
	switch {
	case c.RegisteredClaims.Subject != p.subject:
		return "sub"
	case c.RegisteredClaims.Issuer != p.issuer:
		return "iss"
	case c.UID != p.uid:
		return "uid"
	case c.UserEmail != p.email:
		return "email"
	case c.RegisteredClaims.ID != p.id:
		return "jti"
	case c.Use != p.use:
		return "use"
	case c.Activated != p.activated:
		return "act"
	case !slices.Equal(c.RoleNames, p.roles):
		return "roles"
	case !slices.Equal([]string(c.RegisteredClaims.Audience), p.audience):
		return "aud"
	case !c.Expires().Equal(p.expiresAt):
		return "exp"
	case !c.IssuedAt().Equal(p.issuedAt):
		return "iat"
	}
	return ""
}

// decorateClaims runs decorator and rejects changes to protected claims.
func decorateClaims(ctx context.Context, decorator ClaimsDecorator, account *Account, claims *JWTClaims) error {
	if decorator == nil {
		return nil
	}
	snapshot := captureProtectedClaims(claims)
	if err := decorator.Decorate(ctx, account, claims); err != nil {
		return err
	}
	if claim := snapshot.violation(claims); claim != "" {
		return withDetails(ErrProtectedClaimMutation, map[string]any{"claim": claim})
	}
	return nil
}
