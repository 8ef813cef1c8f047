package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
)

// Policy declares what an operation requires from its caller.
// RequireActivation adds the doctor activation check on top of the roles.
type Policy struct {
	Name              string
	Require           Requirement
	RequireActivation bool
}

var (
	// PolicyAdmin guards activation review.
	PolicyAdmin = Policy{Name: "admin", Require: AnyOf(RoleAdmin)}
	// PolicyDoctorArea lets doctors and admins in, activated or not. Used by
	// the activation status screen.
	PolicyDoctorArea = Policy{Name: "doctor-area", Require: AnyOf(RoleDoctor, RoleAdmin)}
	// PolicyDoctorDashboard is doctor-only capability.
	PolicyDoctorDashboard = Policy{Name: "doctor-dashboard", Require: AnyOf(RoleDoctor), RequireActivation: true}
	// PolicyAuthenticated accepts any signed-in account.
	PolicyAuthenticated = Policy{Name: "authenticated", Require: AnyOf(RoleUser, RoleDoctor, RoleAdmin)}
)

// GateOption customizes the gate.
type GateOption func(*Gate)

// WithGateAccounts makes the gate read activation from the store instead
// of trusting the claim, so approvals apply before the token is refreshed.
func WithGateAccounts(accounts AccountLookup) GateOption {
	return func(g *Gate) {
		g.accounts = accounts
	}
}

// WithGateLogger overrides the logger.
func WithGateLogger(l Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// Gate maps validated claims onto policies.
type Gate struct {
	accounts AccountLookup
	logger   Logger
}

// NewGate returns a gate. Without WithGateAccounts activation is read from
// the token claim.
func NewGate(opts ...GateOption) *Gate {
	g := &Gate{logger: defLogger{}}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Authorize returns nil when claims satisfy policy. A caller lacking the
// roles gets ErrAuthorizationDenied; a doctor who is not yet activated
// gets ErrAccountNotActivated.
func (g *Gate) Authorize(ctx context.Context, claims AuthClaims, policy Policy) error {
	if claims == nil {
		return withDetails(ErrAuthorizationDenied, map[string]any{
			"policy": policy.Name,
			"reason": "no claims",
		})
	}

	roles := claims.Roles()
	if !policy.Require.SatisfiedBy(roles) {
		g.logger.Debug("gate %s denied %s: roles %v do not satisfy %s", policy.Name, claims.UserID(), roles, policy.Require)
		return withDetails(ErrAuthorizationDenied, map[string]any{
			"policy":   policy.Name,
			"required": policy.Require.String(),
		})
	}

	if !policy.RequireActivation || !roles.Has(RoleDoctor) {
		return nil
	}

	activated, err := g.activated(ctx, claims)
	if err != nil {
		return err
	}
	if !activated {
		return withDetails(ErrAccountNotActivated, map[string]any{
			"policy":    policy.Name,
			"doctor_id": claims.UserID(),
		})
	}
	return nil
}

// AuthorizeContext authorizes the claims stored in ctx by WithClaimsContext.
func (g *Gate) AuthorizeContext(ctx context.Context, policy Policy) error {
	claims, _ := GetClaims(ctx)
	return g.Authorize(ctx, claims, policy)
}

func (g *Gate) activated(ctx context.Context, claims AuthClaims) (bool, error) {
	if g.accounts == nil {
		return claims.IsActivated(), nil
	}

	account, err := g.accounts.FindByID(ctx, claims.UserID())
	if err != nil {
		if IsNotFound(err) {
			return false, withDetails(ErrAuthorizationDenied, map[string]any{
				"reason": "account no longer exists",
			})
		}
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load account for authorization")
	}
	if !account.IsDoctor() {
		return false, withDetails(ErrAuthorizationDenied, map[string]any{
			"reason": "account is not a doctor",
		})
	}
	return account.IsActivated, nil
}
