package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/healthapp/go-auth"
)

func TestAccountEnsureDefaults(t *testing.T) {
	account := &auth.Account{Email: "  Dr.Who@Clinic.Test ", Roles: auth.RoleSet{"doctor", "doctor"}}
	account.EnsureDefaults()

	assert.Equal(t, "dr.who@clinic.test", account.Email)
	assert.Equal(t, auth.AccountStatusActive, account.Status)
	assert.Equal(t, auth.RoleSet{auth.RoleUser, auth.RoleDoctor}, account.Roles)

	locked := &auth.Account{Status: auth.AccountStatusLocked}
	locked.EnsureDefaults()
	assert.Equal(t, auth.AccountStatusLocked, locked.Status)
}

func TestAccountHelpers(t *testing.T) {
	doctor := newDoctor("d1", testNow)
	assert.True(t, doctor.IsDoctor())
	assert.False(t, doctor.IsAdmin())
	assert.True(t, doctor.HasRole(auth.RoleUser))
	assert.Equal(t, "Doc d1", doctor.FullName())

	var missing *auth.Account
	assert.False(t, missing.IsDoctor())
	assert.Empty(t, missing.FullName())
	assert.Nil(t, missing.Clone())
}

func TestAccountCloneIsDeep(t *testing.T) {
	at := testNow
	doctor := newDoctor("d1", testNow)
	doctor.ActivationDate = &at

	clone := doctor.Clone()
	clone.Roles[0] = auth.RoleAdmin
	*clone.ActivationDate = at.Add(time.Hour)

	assert.Equal(t, auth.RoleUser, doctor.Roles[0])
	assert.Equal(t, testNow, *doctor.ActivationDate)
}

func TestActivationRequestState(t *testing.T) {
	var none *auth.ActivationRequest
	assert.Equal(t, auth.StateNoRequest, none.State())

	req := pendingRequest("d1")
	assert.Equal(t, auth.StatePending, req.State())

	req.IsPending = false
	assert.Equal(t, auth.StateApproved, req.State(), "legacy entries without outcome were approvals")

	req.Outcome = auth.StateRejected
	assert.Equal(t, auth.StateRejected, req.State())
	assert.True(t, req.State().IsTerminal())
}

func TestRoleSet(t *testing.T) {
	t.Run("normalize", func(t *testing.T) {
		set := auth.NewRoleSet(auth.RoleAdmin, "bogus", auth.RoleDoctor, auth.RoleAdmin)
		assert.Equal(t, auth.RoleSet{auth.RoleUser, auth.RoleDoctor, auth.RoleAdmin}, set)
		assert.Equal(t, auth.RoleSet{auth.RoleUser}, auth.NewRoleSet())
	})

	t.Run("user is implicit", func(t *testing.T) {
		assert.True(t, auth.RoleSet{}.Has(auth.RoleUser))
		assert.False(t, auth.RoleSet{}.Has(auth.RoleDoctor))
	})

	t.Run("parse", func(t *testing.T) {
		role, ok := auth.ParseRole(" admin ")
		assert.True(t, ok)
		assert.Equal(t, auth.RoleAdmin, role)

		_, ok = auth.ParseRole("nurse")
		assert.False(t, ok)
		assert.False(t, auth.Role("nurse").IsValid())
	})

	t.Run("sql round trip", func(t *testing.T) {
		value, err := auth.NewRoleSet(auth.RoleDoctor).Value()
		require.NoError(t, err)
		assert.Equal(t, "USER,DOCTOR", value)

		var scanned auth.RoleSet
		require.NoError(t, scanned.Scan([]byte("DOCTOR,ADMIN")))
		assert.Equal(t, auth.RoleSet{auth.RoleUser, auth.RoleDoctor, auth.RoleAdmin}, scanned)

		require.NoError(t, scanned.Scan(nil))
		assert.Equal(t, auth.RoleSet{auth.RoleUser}, scanned)

		assert.Error(t, scanned.Scan(42))
	})
}

func TestRequirement(t *testing.T) {
	doctorAdmin := auth.NewRoleSet(auth.RoleDoctor, auth.RoleAdmin)
	doctor := auth.NewRoleSet(auth.RoleDoctor)

	assert.True(t, auth.AnyOf(auth.RoleAdmin, auth.RoleDoctor).SatisfiedBy(doctor))
	assert.False(t, auth.AllOf(auth.RoleAdmin, auth.RoleDoctor).SatisfiedBy(doctor))
	assert.True(t, auth.AllOf(auth.RoleAdmin, auth.RoleDoctor).SatisfiedBy(doctorAdmin))
	assert.True(t, auth.AnyOf().SatisfiedBy(nil))

	assert.Equal(t, "any(ADMIN)", auth.AnyOf(auth.RoleAdmin).String())
	assert.Equal(t, "all(DOCTOR,ADMIN)", auth.AllOf(auth.RoleDoctor, auth.RoleAdmin).String())
}
