package auth

import (
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Config holds token issuing options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetAccessTokenTTL() time.Duration
	GetRefreshTokenTTL() time.Duration
}

// PasswordHasher hashes and verifies credentials. Verify must compare in
// constant time.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, digest string) bool
}

// Actor identifies who triggered an operation.
type Actor struct {
	ID    string
	Email string
	Roles RoleSet
}

// ActorFromAccount builds an Actor from a stored account.
func ActorFromAccount(a *Account) Actor {
	if a == nil {
		return Actor{}
	}
	return Actor{ID: a.ID, Email: a.Email, Roles: a.Roles}
}

// ActorFromClaims builds an Actor from validated token claims.
func ActorFromClaims(c AuthClaims) Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{ID: c.UserID(), Email: c.Email(), Roles: c.Roles()}
}

// Ref converts the actor for activity events.
func (a Actor) Ref() ActorRef {
	if a.ID == "" {
		return ActorRef{Type: "system"}
	}
	kind := "user"
	if a.Roles.Has(RoleAdmin) {
		kind = "admin"
	}
	return ActorRef{ID: a.ID, Type: kind}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
