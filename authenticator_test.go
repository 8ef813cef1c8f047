package auth_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	auth "github.com/healthapp/go-auth"
	"github.com/healthapp/go-auth/repository/memory"
)

const testPassword = "correct-horse-battery"

type authFixture struct {
	accounts *memory.Accounts
	tokens   *auth.TokenServiceImpl
	sink     *recordingSink
	metrics  *auth.Metrics
	authn    *auth.Authenticator
}

func newAuthFixture(t *testing.T, opts ...auth.AuthenticatorOption) *authFixture {
	t.Helper()
	hasher := auth.NewBcryptHasher(4)
	f := &authFixture{
		accounts: memory.NewAccounts(),
		tokens:   auth.NewTokenService(newMockConfig()),
		sink:     &recordingSink{},
		metrics:  auth.NewMetrics(prometheus.NewRegistry()),
	}

	hash, err := hasher.Hash(testPassword)
	require.NoError(t, err)
	for _, a := range []*auth.Account{
		{ID: "p1", Email: "patient@clinic.test", Roles: auth.NewRoleSet()},
		{ID: "d1", Email: "doctor@clinic.test", Roles: auth.NewRoleSet(auth.RoleDoctor)},
		{ID: "d2", Email: "active@clinic.test", Roles: auth.NewRoleSet(auth.RoleDoctor), IsActivated: true},
		{ID: "l1", Email: "locked@clinic.test", Roles: auth.NewRoleSet(), Status: auth.AccountStatusLocked},
		{ID: "s1", Email: "suspended@clinic.test", Roles: auth.NewRoleSet(), Status: auth.AccountStatusSuspended},
		{ID: "i1", Email: "inactive@clinic.test", Roles: auth.NewRoleSet(), Status: auth.AccountStatusInactive},
		{ID: "v1", Email: "unverified@clinic.test", Roles: auth.NewRoleSet(), Status: auth.AccountStatusPendingVerification},
	} {
		a.PasswordHash = hash
		a.CreatedAt = testNow
		require.NoError(t, f.accounts.Save(context.Background(), a))
	}

	base := []auth.AuthenticatorOption{
		auth.WithPasswordHasher(hasher),
		auth.WithAuthenticatorActivitySink(f.sink),
		auth.WithAuthenticatorMetrics(f.metrics),
		auth.WithAuthenticatorLogger(newCaptureLogger()),
		auth.WithAuthenticatorClock(fixedClock),
	}
	f.authn = auth.NewAuthenticator(f.accounts, f.tokens, append(base, opts...)...)
	return f
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	t.Run("issues a token pair", func(t *testing.T) {
		res, err := f.authn.Login(ctx, "  Doctor@Clinic.TEST ", testPassword)
		require.NoError(t, err)
		assert.Equal(t, "d1", res.Account.ID)
		assert.Equal(t, "Bearer", res.Tokens.TokenType)
		require.NotNil(t, res.Account.LastLoginAt)
		assert.Equal(t, testNow, *res.Account.LastLoginAt)

		claims, err := f.tokens.ValidateAccess(res.Tokens.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "d1", claims.UserID())
		assert.True(t, claims.HasRole(auth.RoleDoctor))
		assert.False(t, claims.IsActivated())

		_, err = f.tokens.ValidateRefresh(res.Tokens.RefreshToken)
		assert.NoError(t, err)
	})

	t.Run("activation flag reaches the token", func(t *testing.T) {
		res, err := f.authn.Login(ctx, "active@clinic.test", testPassword)
		require.NoError(t, err)
		claims, err := f.tokens.ValidateAccess(res.Tokens.AccessToken)
		require.NoError(t, err)
		assert.True(t, claims.IsActivated())
	})

	t.Run("pending verification may log in", func(t *testing.T) {
		_, err := f.authn.Login(ctx, "unverified@clinic.test", testPassword)
		assert.NoError(t, err)
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		_, errPassword := f.authn.Login(ctx, "doctor@clinic.test", "nope")
		_, errEmail := f.authn.Login(ctx, "ghost@clinic.test", testPassword)
		assert.True(t, auth.HasTextCode(errPassword, auth.TextCodeInvalidCredentials))
		assert.True(t, auth.HasTextCode(errEmail, auth.TextCodeInvalidCredentials))
		assert.Equal(t, errPassword.Error(), errEmail.Error())
	})

	blocked := []struct {
		email string
		code  string
	}{
		{"locked@clinic.test", auth.TextCodeAccountLocked},
		{"suspended@clinic.test", auth.TextCodeAccountSuspended},
		{"inactive@clinic.test", auth.TextCodeAccountInactive},
	}
	for _, tc := range blocked {
		t.Run("blocked "+tc.code, func(t *testing.T) {
			_, err := f.authn.Login(ctx, tc.email, testPassword)
			require.Error(t, err)
			assert.True(t, auth.HasTextCode(err, tc.code))
		})
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues("success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(f.metrics.LoginAttempts.WithLabelValues("failure")))
	assert.Contains(t, f.sink.types(), auth.ActivityEventLoginSuccess)
	assert.Contains(t, f.sink.types(), auth.ActivityEventLoginFailure)
}

func TestLoginStoreFailure(t *testing.T) {
	accounts := &MockAccountStore{}
	accounts.On("FindByEmail", mock.Anything, "doctor@clinic.test").Return(nil, errors.New("pool exhausted"))

	a := auth.NewAuthenticator(accounts, auth.NewTokenService(newMockConfig()), auth.WithAuthenticatorLogger(newCaptureLogger()))
	_, err := a.Login(context.Background(), "doctor@clinic.test", testPassword)
	require.Error(t, err)
	assert.False(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
}

func TestRefreshRotation(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	res, err := f.authn.Login(ctx, "doctor@clinic.test", testPassword)
	require.NoError(t, err)

	// approval lands between login and refresh
	doctor, err := f.accounts.FindByID(ctx, "d1")
	require.NoError(t, err)
	doctor.IsActivated = true
	require.NoError(t, f.accounts.Save(ctx, doctor))

	pair, err := f.authn.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	claims, err := f.tokens.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.IsActivated())

	_, err = f.authn.Refresh(ctx, res.Tokens.RefreshToken)
	assert.True(t, auth.IsInvalidToken(err), "a used refresh token is revoked")

	_, err = f.authn.Refresh(ctx, pair.AccessToken)
	assert.True(t, auth.IsInvalidToken(err))

	_, err = f.authn.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
	assert.Contains(t, f.sink.types(), auth.ActivityEventTokenRefreshed)
}

func TestRefreshBlockedAccount(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)

	res, err := f.authn.Login(ctx, "patient@clinic.test", testPassword)
	require.NoError(t, err)

	patient, err := f.accounts.FindByID(ctx, "p1")
	require.NoError(t, err)
	patient.Status = auth.AccountStatusSuspended
	require.NoError(t, f.accounts.Save(ctx, patient))

	_, err = f.authn.Refresh(ctx, res.Tokens.RefreshToken)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeAccountSuspended))
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	revocations := auth.NewMemoryRevocationStore()
	f := newAuthFixture(t, auth.WithRevocationStore(revocations))

	res, err := f.authn.Login(ctx, "patient@clinic.test", testPassword)
	require.NoError(t, err)

	require.NoError(t, f.authn.Logout(ctx, res.Tokens.RefreshToken))
	_, err = f.authn.Refresh(ctx, res.Tokens.RefreshToken)
	assert.True(t, auth.IsInvalidToken(err))

	claims, err := f.tokens.ValidateRefresh(res.Tokens.RefreshToken)
	require.NoError(t, err)
	revoked, err := revocations.IsRevoked(ctx, claims.TokenID())
	require.NoError(t, err)
	assert.True(t, revoked)

	assert.NoError(t, f.authn.Logout(ctx, "garbage"), "invalid tokens are ignored")
	assert.Contains(t, f.sink.types(), auth.ActivityEventLogout)
}

func TestClaimsDecorator(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata is added", func(t *testing.T) {
		decorator := auth.ClaimsDecoratorFunc(func(_ context.Context, account *auth.Account, claims *auth.JWTClaims) error {
			claims.Metadata = map[string]any{"specialization": account.Specialization, "tenant": "north"}
			return nil
		})
		f := newAuthFixture(t, auth.WithClaimsDecorator(decorator))

		res, err := f.authn.Login(ctx, "doctor@clinic.test", testPassword)
		require.NoError(t, err)
		claims, err := f.tokens.ValidateAccess(res.Tokens.AccessToken)
		require.NoError(t, err)
		jwtClaims, ok := claims.(*auth.JWTClaims)
		require.True(t, ok)
		assert.Equal(t, "north", jwtClaims.Metadata["tenant"])
	})

	protected := map[string]func(*auth.JWTClaims){
		"roles": func(c *auth.JWTClaims) { c.RoleNames = append(c.RoleNames, "ADMIN") },
		"act":   func(c *auth.JWTClaims) { c.Activated = true },
		"uid":   func(c *auth.JWTClaims) { c.UID = "someone-else" },
		"use":   func(c *auth.JWTClaims) { c.Use = auth.TokenUseRefresh },
	}
	for claim, mutate := range protected {
		t.Run("refuses "+claim, func(t *testing.T) {
			decorator := auth.ClaimsDecoratorFunc(func(_ context.Context, _ *auth.Account, c *auth.JWTClaims) error {
				mutate(c)
				return nil
			})
			f := newAuthFixture(t, auth.WithClaimsDecorator(decorator))

			_, err := f.authn.Login(ctx, "doctor@clinic.test", testPassword)
			require.Error(t, err)
			assert.True(t, auth.HasTextCode(err, auth.TextCodeProtectedClaimMutation))
		})
	}

	t.Run("decorator error stops login", func(t *testing.T) {
		boom := errors.New("directory unavailable")
		decorator := auth.ClaimsDecoratorFunc(func(context.Context, *auth.Account, *auth.JWTClaims) error { return boom })
		f := newAuthFixture(t, auth.WithClaimsDecorator(decorator))

		_, err := f.authn.Login(ctx, "doctor@clinic.test", testPassword)
		assert.ErrorIs(t, err, boom)
	})
}

// approvalDuringLogin runs onTrack once just before the login timestamp is
// written, after Login has read the account.
type approvalDuringLogin struct {
	*memory.Accounts
	onTrack func()
}

func (s *approvalDuringLogin) TrackSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	if s.onTrack != nil {
		fn := s.onTrack
		s.onTrack = nil
		fn()
	}
	return s.Accounts.TrackSuccessfulLogin(ctx, id, at)
}

func TestLoginKeepsConcurrentApproval(t *testing.T) {
	ctx := context.Background()
	f := newAuthFixture(t)
	requests := memory.NewRequests()
	workflow := auth.NewActivationWorkflow(f.accounts, requests, auth.WithWorkflowClock(fixedClock))

	doctor, err := f.accounts.FindByID(ctx, "d1")
	require.NoError(t, err)
	_, err = workflow.CreateActivationRequest(ctx, doctor)
	require.NoError(t, err)

	var approveErr error
	store := &approvalDuringLogin{
		Accounts: f.accounts,
		onTrack: func() {
			_, approveErr = workflow.ProcessActivationRequest(ctx, "approve", "d1", "", adminActor)
		},
	}
	authn := auth.NewAuthenticator(store, f.tokens,
		auth.WithPasswordHasher(auth.NewBcryptHasher(4)),
		auth.WithAuthenticatorLogger(newCaptureLogger()),
		auth.WithAuthenticatorClock(fixedClock),
	)

	res, err := authn.Login(ctx, "doctor@clinic.test", testPassword)
	require.NoError(t, err)
	require.NoError(t, approveErr)
	require.NotNil(t, res.Account.LastLoginAt)

	stored, err := f.accounts.FindByID(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, stored.IsActivated, "login must not overwrite the approval")
	assert.Equal(t, adminActor.ID, stored.ActivatedBy)
	require.NotNil(t, stored.LastLoginAt)
	assert.True(t, stored.LastLoginAt.Equal(testNow))

	entry, err := requests.FindByDoctorID(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, auth.StateApproved, entry.State())
}

func TestLoginUnknownEmailRunsHasher(t *testing.T) {
	ctx := context.Background()
	hasher := &countingHasher{PasswordHasher: auth.NewBcryptHasher(4)}
	f := newAuthFixture(t, auth.WithPasswordHasher(hasher))

	_, err := f.authn.Login(ctx, "ghost@clinic.test", testPassword)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
	require.Equal(t, 1, hasher.verifies())
	assert.NotEmpty(t, hasher.lastDigest(), "unknown emails are checked against a real digest")

	_, err = f.authn.Login(ctx, "nobody@clinic.test", testPassword)
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
	assert.Equal(t, 2, hasher.verifies())
	assert.Equal(t, 1, hasher.hashes(), "the decoy digest is computed once")

	_, err = f.authn.Login(ctx, "doctor@clinic.test", "wrong")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
	assert.Equal(t, 3, hasher.verifies())
}

func TestRefreshTokenRedeemedOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("concurrent refreshes", func(t *testing.T) {
		f := newAuthFixture(t)
		res, err := f.authn.Login(ctx, "patient@clinic.test", testPassword)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.authn.Refresh(ctx, res.Tokens.RefreshToken)
				if err == nil {
					wins.Add(1)
					return
				}
				assert.True(t, auth.IsInvalidToken(err))
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("second refresh lands inside the first", func(t *testing.T) {
		store := &interleavedRevocations{RevocationStore: auth.NewMemoryRevocationStore()}
		f := newAuthFixture(t, auth.WithRevocationStore(store))
		res, err := f.authn.Login(ctx, "patient@clinic.test", testPassword)
		require.NoError(t, err)

		var inner error
		store.hook = func() {
			_, inner = f.authn.Refresh(ctx, res.Tokens.RefreshToken)
		}

		_, outer := f.authn.Refresh(ctx, res.Tokens.RefreshToken)
		assert.NoError(t, inner)
		assert.True(t, auth.IsInvalidToken(outer))
	})
}

// interleavedRevocations runs hook once before the first revoke reaches
// the underlying store.
type interleavedRevocations struct {
	auth.RevocationStore
	fired atomic.Bool
	hook  func()
}

func (s *interleavedRevocations) Revoke(ctx context.Context, tokenID string, until time.Time) (bool, error) {
	if s.hook != nil && s.fired.CompareAndSwap(false, true) {
		s.hook()
	}
	return s.RevocationStore.Revoke(ctx, tokenID, until)
}

type countingHasher struct {
	auth.PasswordHasher
	mu      sync.Mutex
	hashN   int
	verifyN int
	digest  string
}

func (h *countingHasher) Hash(plaintext string) (string, error) {
	h.mu.Lock()
	h.hashN++
	h.mu.Unlock()
	return h.PasswordHasher.Hash(plaintext)
}

func (h *countingHasher) Verify(plaintext, digest string) bool {
	h.mu.Lock()
	h.verifyN++
	h.digest = digest
	h.mu.Unlock()
	return h.PasswordHasher.Verify(plaintext, digest)
}

func (h *countingHasher) verifies() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.verifyN
}

func (h *countingHasher) hashes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hashN
}

func (h *countingHasher) lastDigest() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.digest
}
