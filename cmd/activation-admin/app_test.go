package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	auth "github.com/healthapp/go-auth"
	"github.com/healthapp/go-auth/config"
)

func newTestApp(t *testing.T) *app {
	t.Helper()
	cfg := &config.Config{
		Environment:     "test",
		StoreBackend:    config.BackendMemory,
		Issuer:          "health-app",
		Audience:        []string{"health-app"},
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: time.Hour,
		BcryptCost:      4,
		PhoneRegion:     "US",
	}
	require.NoError(t, cfg.Validate())

	a, err := newApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func runCmd(t *testing.T, a *app, name, token string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := commands[name](context.Background(), a, &out, token, args)
	return out.String(), err
}

func TestReviewFlow(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	_, err := runCmd(t, a, "create-admin", "", "-first-name", "Ada", "root@clinic.test", "s3cret-pass")
	require.NoError(t, err)

	login, err := a.authn.Login(ctx, "root@clinic.test", "s3cret-pass")
	require.NoError(t, err)
	token := login.Tokens.AccessToken

	out, err := runCmd(t, a, "register-doctor", "",
		"-first-name", "Jane", "-last-name", "Roe",
		"-email", "jane@clinic.test", "-password", "doctor-pass",
		"-license", "MD-1234", "-specialization", "Cardiology", "-years", "7",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "awaiting activation")

	doctor, err := a.accounts.FindByEmail(ctx, "jane@clinic.test")
	require.NoError(t, err)

	out, err = runCmd(t, a, "pending", token)
	require.NoError(t, err)
	assert.Contains(t, out, doctor.ID)
	assert.Contains(t, out, "MD-1234")

	out, err = runCmd(t, a, "count", token)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = runCmd(t, a, "status", token, doctor.ID)
	require.NoError(t, err)
	assert.Contains(t, out, auth.StatusPendingActivation)

	_, err = runCmd(t, a, "approve", token, doctor.ID, "license", "verified")
	require.NoError(t, err)

	_, err = runCmd(t, a, "approve", token, doctor.ID)
	assert.True(t, auth.IsAlreadyProcessed(err))

	out, err = runCmd(t, a, "count", token)
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)

	out, err = runCmd(t, a, "processed", token)
	require.NoError(t, err)
	assert.Contains(t, out, "license verified")

	out, err = runCmd(t, a, "reconcile", token)
	require.NoError(t, err)
	assert.Contains(t, out, "0 request(s) reconciled")
}

func TestReviewCommandsRequireAdmin(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	_, err := runCmd(t, a, "pending", "")
	assert.ErrorContains(t, err, adminTokenEnv)

	_, err = runCmd(t, a, "pending", "not-a-jwt")
	assert.True(t, auth.IsInvalidToken(err))

	_, err = a.register.Register(ctx, auth.RegisterAccountMessage{
		FirstName: "Pat", LastName: "Lee", Email: "pat@clinic.test",
		Password: "patient-pass", Role: "USER",
	})
	require.NoError(t, err)
	login, err := a.authn.Login(ctx, "pat@clinic.test", "patient-pass")
	require.NoError(t, err)

	_, err = runCmd(t, a, "reject", login.Tokens.AccessToken, "someone")
	assert.True(t, auth.IsAuthorizationDenied(err))
}

func TestCreateAdminRejectsDuplicates(t *testing.T) {
	a := newTestApp(t)

	_, err := runCmd(t, a, "create-admin", "", "root@clinic.test", "s3cret-pass")
	require.NoError(t, err)

	_, err = runCmd(t, a, "create-admin", "", "ROOT@clinic.test", "other-pass")
	assert.True(t, auth.HasTextCode(err, auth.TextCodeEmailAlreadyExists))

	_, err = runCmd(t, a, "create-admin", "", "only-email@clinic.test")
	assert.Error(t, err)
}
