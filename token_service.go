package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	// DefaultAccessTokenTTL is used when Config returns zero
	DefaultAccessTokenTTL = 15 * time.Minute
	// DefaultRefreshTokenTTL is used when Config returns zero
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenPair is what a successful login or refresh hands to the client.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenService mints and validates session tokens.
type TokenService interface {
	// Sign fills issuer, audience, timestamps and id, then signs claims
	// with the TTL matching claims.Use.
	Sign(claims *JWTClaims) (string, time.Time, error)
	ValidateAccess(token string) (AuthClaims, error)
	ValidateRefresh(token string) (AuthClaims, error)
}

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*TokenServiceImpl)

// WithTokenClock injects a custom clock for issuing and validating.
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger used for rejected tokens.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenServiceImpl) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// TokenServiceImpl implements TokenService with HS256
type TokenServiceImpl struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg Config, opts ...TokenServiceOption) *TokenServiceImpl {
	ts := &TokenServiceImpl{
		signingKey: []byte(cfg.GetSigningKey()),
		issuer:     cfg.GetIssuer(),
		audience:   cfg.GetAudience(),
		accessTTL:  cfg.GetAccessTokenTTL(),
		refreshTTL: cfg.GetRefreshTokenTTL(),
		now:        time.Now,
		logger:     defLogger{},
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = DefaultAccessTokenTTL
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = DefaultRefreshTokenTTL
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// TTL returns the lifetime used for tokens of the given use.
func (ts *TokenServiceImpl) TTL(use TokenUse) time.Duration {
	if use == TokenUseRefresh {
		return ts.refreshTTL
	}
	return ts.accessTTL
}

// Sign implements TokenService.
func (ts *TokenServiceImpl) Sign(claims *JWTClaims) (string, time.Time, error) {
	if claims == nil {
		return "", time.Time{}, goerrors.New("claims must not be nil", goerrors.CategoryInternal)
	}
	if claims.Use == "" {
		claims.Use = TokenUseAccess
	}

	now := ts.now()
	expiresAt := now.Add(ts.TTL(claims.Use))

	claims.RegisteredClaims.Issuer = ts.issuer
	if len(ts.audience) > 0 {
		claims.RegisteredClaims.Audience = append(jwt.ClaimStrings(nil), ts.audience...)
	}
	claims.RegisteredClaims.IssuedAt = jwt.NewNumericDate(now)
	claims.RegisteredClaims.NotBefore = jwt.NewNumericDate(now)
	claims.RegisteredClaims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	if claims.RegisteredClaims.ID == "" {
		claims.RegisteredClaims.ID = uuid.NewString()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

// ValidateAccess accepts only unexpired access tokens from this issuer.
func (ts *TokenServiceImpl) ValidateAccess(token string) (AuthClaims, error) {
	claims, err := ts.validate(token, TokenUseAccess)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateRefresh accepts only unexpired refresh tokens from this issuer.
func (ts *TokenServiceImpl) ValidateRefresh(token string) (AuthClaims, error) {
	claims, err := ts.validate(token, TokenUseRefresh)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// validate fails closed. Every failure returns ErrInvalidToken; the reason
// is only logged at debug level.
func (ts *TokenServiceImpl) validate(tokenString string, use TokenUse) (*JWTClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(ts.now),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		ts.logger.Debug("token rejected: %v", err)
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		ts.logger.Debug("token rejected: could not decode claims")
		return nil, ErrInvalidToken
	}

	if claims.Use != use {
		ts.logger.Debug("token rejected: expected %s token, got %q", use, claims.Use)
		return nil, ErrInvalidToken
	}

	if claims.UserID() == "" {
		ts.logger.Debug("token rejected: missing subject")
		return nil, ErrInvalidToken
	}

	return claims, nil
}
