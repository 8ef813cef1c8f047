package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUse separates access tokens from refresh tokens.
type TokenUse string

const (
	TokenUseAccess  TokenUse = "access"
	TokenUseRefresh TokenUse = "refresh"
)

// AuthClaims is the validated view of a session token.
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	Roles() RoleSet
	HasRole(role Role) bool
	IsActivated() bool
	TokenUse() TokenUse
	TokenID() string
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string         `json:"uid,omitempty"`
	UserEmail string         `json:"email,omitempty"`
	RoleNames []string       `json:"roles,omitempty"`
	Activated bool           `json:"act,omitempty"`
	Use       TokenUse       `json:"use"`
	Metadata  map[string]any `json:"metadata,omitempty"` // extension payload
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the account id
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

func (c *JWTClaims) Email() string {
	return c.UserEmail
}

// Roles parses the role claim, unknown names are dropped.
func (c *JWTClaims) Roles() RoleSet {
	return RoleSetFromStrings(c.RoleNames)
}

func (c *JWTClaims) HasRole(role Role) bool {
	return c.Roles().Has(role)
}

// IsActivated is the doctor activation flag at issue time.
func (c *JWTClaims) IsActivated() bool {
	return c.Activated
}

func (c *JWTClaims) TokenUse() TokenUse {
	return c.Use
}

func (c *JWTClaims) TokenID() string {
	return c.RegisteredClaims.ID
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}

// claimsForAccount builds the identity part of a token for account.
func claimsForAccount(account *Account, use TokenUse) *JWTClaims {
	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: account.ID,
		},
		UID:       account.ID,
		UserEmail: account.Email,
		RoleNames: account.Roles.Normalize().Strings(),
		Activated: account.IsDoctor() && account.IsActivated,
		Use:       use,
	}
}
