package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Account *Account
	Tokens  *TokenPair
}

// AuthenticatorOption customizes the Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithPasswordHasher overrides the default bcrypt hasher.
func WithPasswordHasher(h PasswordHasher) AuthenticatorOption {
	return func(a *Authenticator) {
		if h != nil {
			a.hasher = h
		}
	}
}

// WithRevocationStore sets where revoked refresh tokens are remembered.
func WithRevocationStore(s RevocationStore) AuthenticatorOption {
	return func(a *Authenticator) {
		if s != nil {
			a.revocations = s
		}
	}
}

// WithAuthenticatorLogger overrides the logger.
func WithAuthenticatorLogger(l Logger) AuthenticatorOption {
	return func(a *Authenticator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAuthenticatorActivitySink configures an ActivitySink for emitting auth events.
func WithAuthenticatorActivitySink(sink ActivitySink) AuthenticatorOption {
	return func(a *Authenticator) {
		a.activity = normalizeActivitySink(sink)
	}
}

// WithAuthenticatorMetrics enables login counters.
func WithAuthenticatorMetrics(m *Metrics) AuthenticatorOption {
	return func(a *Authenticator) {
		a.metrics = m
	}
}

// WithClaimsDecorator configures a ClaimsDecorator for enriching access tokens.
func WithClaimsDecorator(d ClaimsDecorator) AuthenticatorOption {
	return func(a *Authenticator) {
		a.decorator = d
	}
}

// WithAuthenticatorClock injects a custom clock.
func WithAuthenticatorClock(clock func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) {
		if clock != nil {
			a.now = clock
		}
	}
}

// Authenticator verifies credentials and manages the token lifecycle.
type Authenticator struct {
	accounts    AccountStore
	tokens      TokenService
	hasher      PasswordHasher
	revocations RevocationStore
	decorator   ClaimsDecorator
	activity    ActivitySink
	logger      Logger
	metrics     *Metrics
	now         func() time.Time

	decoyOnce   sync.Once
	decoyDigest string
}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(accounts AccountStore, tokens TokenService, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		accounts:    accounts,
		tokens:      tokens,
		hasher:      NewBcryptHasher(0),
		revocations: NewMemoryRevocationStore(),
		activity:    noopActivitySink{},
		logger:      defLogger{},
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Login verifies email and password and issues a token pair. Unknown
// emails and wrong passwords fail with the same error.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, err := a.accounts.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !IsNotFound(err) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
		}
		// keep the timing of unknown emails close to a wrong password
		a.hasher.Verify(password, a.decoy())
		a.loginFailed(ctx, "", email, "unknown email")
		return nil, ErrInvalidCredentials
	}

	if !a.hasher.Verify(password, account.PasswordHash) {
		a.loginFailed(ctx, account.ID, email, "password mismatch")
		return nil, ErrInvalidCredentials
	}

	if err := statusError(account); err != nil {
		a.logger.Warn("login blocked for account %s with status %s", account.ID, account.Status)
		a.loginFailed(ctx, account.ID, email, string(account.Status))
		return nil, err
	}

	now := a.now().UTC()
	if err := a.accounts.TrackSuccessfulLogin(ctx, account.ID, now); err != nil {
		a.logger.Warn("failed to track login for account %s: %v", account.ID, err)
	} else {
		account.LastLoginAt = &now
		account.UpdatedAt = now
	}

	pair, err := a.issuePair(ctx, account)
	if err != nil {
		return nil, err
	}

	a.metrics.login("success")
	recordActivity(ctx, a.activity, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Actor:     ActorFromAccount(account).Ref(),
		AccountID: account.ID,
	})

	return &LoginResult{Account: account.Clone(), Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. The account is
// reloaded so role and activation changes show up in the new tokens. The
// presented token is revoked, and only the caller whose revocation lands
// first gets a new pair.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := a.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil, err
	}

	account, err := a.accounts.FindByID(ctx, claims.UserID())
	if err != nil {
		if IsNotFound(err) {
			return nil, ErrInvalidToken
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account")
	}
	if err := statusError(account); err != nil {
		return nil, err
	}

	claimed, err := a.revocations.Revoke(ctx, claims.TokenID(), claims.Expires())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh token")
	}
	if !claimed {
		a.logger.Debug("refresh token %s was already revoked", claims.TokenID())
		return nil, ErrInvalidToken
	}

	pair, err := a.issuePair(ctx, account)
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, a.activity, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventTokenRefreshed,
		Actor:     ActorFromAccount(account).Ref(),
		AccountID: account.ID,
	})
	return pair, nil
}

// Logout revokes a refresh token. Invalid tokens are ignored.
func (a *Authenticator) Logout(ctx context.Context, refreshToken string) error {
	claims, err := a.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		return nil
	}
	if _, err := a.revocations.Revoke(ctx, claims.TokenID(), claims.Expires()); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke refresh token")
	}
	recordActivity(ctx, a.activity, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventLogout,
		Actor:     ActorRef{ID: claims.UserID(), Type: "user"},
		AccountID: claims.UserID(),
	})
	return nil
}

func (a *Authenticator) issuePair(ctx context.Context, account *Account) (*TokenPair, error) {
	access := claimsForAccount(account, TokenUseAccess)
	if err := decorateClaims(ctx, a.decorator, account, access); err != nil {
		return nil, err
	}

	accessToken, accessExp, err := a.tokens.Sign(access)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshExp, err := a.tokens.Sign(claimsForAccount(account, TokenUseRefresh))
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// decoy returns a digest of a throwaway secret made with the configured
// hasher, so verifying against it costs the same as a real account.
func (a *Authenticator) decoy() string {
	a.decoyOnce.Do(func() {
		digest, err := a.hasher.Hash("no-such-account")
		if err != nil {
			a.logger.Warn("failed to prepare decoy digest: %v", err)
			return
		}
		a.decoyDigest = digest
	})
	return a.decoyDigest
}

func (a *Authenticator) loginFailed(ctx context.Context, accountID, identifier, reason string) {
	a.metrics.login("failure")
	recordActivity(ctx, a.activity, a.logger, a.now, ActivityEvent{
		EventType: ActivityEventLoginFailure,
		Actor:     ActorRef{Type: "unknown"},
		AccountID: accountID,
		Metadata: map[string]any{
			"identifier": identifier,
			"reason":     reason,
		},
	})
}

// statusError maps blocking account statuses to errors. Accounts pending
// email verification may still log in.
func statusError(account *Account) error {
	switch account.Status {
	case AccountStatusLocked:
		return ErrAccountLocked
	case AccountStatusSuspended:
		return ErrAccountSuspended
	case AccountStatusInactive:
		return ErrAccountInactive
	default:
		return nil
	}
}
