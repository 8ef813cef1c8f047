package auth

import (
	"context"
	"time"
)

// AccountFilter selects accounts. Zero fields do not constrain the query.
type AccountFilter struct {
	Role      Role
	Activated *bool
	Status    AccountStatus
}

// Matches evaluates the filter in memory. Backends that translate the
// filter into a query must keep the same semantics.
func (f AccountFilter) Matches(a *Account) bool {
	if a == nil {
		return false
	}
	if f.Role != "" && !a.HasRole(f.Role) {
		return false
	}
	if f.Activated != nil && a.IsActivated != *f.Activated {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	return true
}

// ActivationRequestFilter selects ledger entries.
type ActivationRequestFilter struct {
	DoctorIDs   []string
	Pending     *bool
	ProcessedBy string
}

// Matches evaluates the filter in memory.
func (f ActivationRequestFilter) Matches(r *ActivationRequest) bool {
	if r == nil {
		return false
	}
	if len(f.DoctorIDs) > 0 {
		found := false
		for _, id := range f.DoctorIDs {
			if id == r.DoctorID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Pending != nil && r.IsPending != *f.Pending {
		return false
	}
	if f.ProcessedBy != "" && r.ProcessedBy != f.ProcessedBy {
		return false
	}
	return true
}

// Bool returns a pointer to v, handy for filters.
func Bool(v bool) *bool { return &v }

// AccountLookup is the read side of AccountStore, used by the gate.
type AccountLookup interface {
	FindByID(ctx context.Context, id string) (*Account, error)
}

// AccountStore persists accounts. Find returns accounts ordered by
// CreatedAt then ID, ascending. Lookups for unknown records return an
// error matching ErrAccountNotFound. TrackSuccessfulLogin writes only the
// login timestamp columns so it never overwrites a concurrent activation.
type AccountStore interface {
	AccountLookup
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Find(ctx context.Context, filter AccountFilter) ([]*Account, error)
	Count(ctx context.Context, filter AccountFilter) (int64, error)
	Save(ctx context.Context, account *Account) error
	TrackSuccessfulLogin(ctx context.Context, id string, at time.Time) error
}

// ActivationRequestStore persists ledger entries. Create must enforce the
// unique doctor id and return ErrActivationRequestExists on conflict.
type ActivationRequestStore interface {
	FindByID(ctx context.Context, id string) (*ActivationRequest, error)
	FindByDoctorID(ctx context.Context, doctorID string) (*ActivationRequest, error)
	Find(ctx context.Context, filter ActivationRequestFilter) ([]*ActivationRequest, error)
	Count(ctx context.Context, filter ActivationRequestFilter) (int64, error)
	Create(ctx context.Context, request *ActivationRequest) error
	Save(ctx context.Context, request *ActivationRequest) error
}

// ActivationClaimer is implemented by account stores that can activate an
// account conditionally. MarkActivated writes the activation fields only
// if the stored account is not yet activated and returns
// ErrAlreadyProcessed otherwise.
type ActivationClaimer interface {
	MarkActivated(ctx context.Context, account *Account) error
}

// PendingResolver is implemented by ledger stores that can resolve an
// entry conditionally. ResolvePending writes the resolution fields only if
// the stored entry is still pending and returns ErrAlreadyProcessed
// otherwise.
type PendingResolver interface {
	ResolvePending(ctx context.Context, request *ActivationRequest) error
}
