package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	auth "github.com/healthapp/go-auth"
)

func TestJWTClaims_UserID(t *testing.T) {
	tests := []struct {
		name   string
		claims *auth.JWTClaims
		want   string
	}{
		{
			name:   "uid wins",
			claims: &auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}, UID: "uid-1"},
			want:   "uid-1",
		},
		{
			name:   "falls back to subject",
			claims: &auth.JWTClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-1"}},
			want:   "sub-1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.claims.UserID())
		})
	}
}

func TestJWTClaims_Roles(t *testing.T) {
	claims := &auth.JWTClaims{RoleNames: []string{"doctor", "SUPERUSER", "admin", "DOCTOR"}}

	assert.Equal(t, auth.RoleSet{auth.RoleUser, auth.RoleDoctor, auth.RoleAdmin}, claims.Roles())
	assert.True(t, claims.HasRole(auth.RoleUser))
	assert.True(t, claims.HasRole(auth.RoleAdmin))

	empty := &auth.JWTClaims{}
	assert.Equal(t, auth.RoleSet{auth.RoleUser}, empty.Roles())
	assert.False(t, empty.HasRole(auth.RoleDoctor))
}

func TestJWTClaims_Times(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	claims := &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Use: auth.TokenUseRefresh,
	}

	assert.True(t, now.Equal(claims.IssuedAt()))
	assert.True(t, now.Add(time.Hour).Equal(claims.Expires()))
	assert.Equal(t, "jti-1", claims.TokenID())
	assert.Equal(t, auth.TokenUseRefresh, claims.TokenUse())

	blank := &auth.JWTClaims{}
	assert.True(t, blank.Expires().IsZero())
	assert.True(t, blank.IssuedAt().IsZero())
}

func TestJWTClaims_AuthClaimsInterface(t *testing.T) {
	var claims auth.AuthClaims = &auth.JWTClaims{UID: "u1", UserEmail: "u1@clinic.test", Activated: true}

	assert.Equal(t, "u1", claims.UserID())
	assert.Equal(t, "u1@clinic.test", claims.Email())
	assert.True(t, claims.IsActivated())

	actor := auth.ActorFromClaims(claims)
	assert.Equal(t, "u1", actor.ID)
	assert.Equal(t, auth.ActorRef{ID: "u1", Type: "user"}, actor.Ref())
	assert.Equal(t, auth.ActorRef{Type: "system"}, auth.ActorFromClaims(nil).Ref())
}
