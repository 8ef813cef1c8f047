// Package memory holds process-local stores. They honour the same
// conditional update contracts as the SQL and Mongo stores and are used by
// tests and the CLI's memory backend.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	auth "github.com/healthapp/go-auth"
)

// Accounts is an in-memory auth.AccountStore.
type Accounts struct {
	mu   sync.RWMutex
	byID map[string]*auth.Account
}

var (
	_ auth.AccountStore      = (*Accounts)(nil)
	_ auth.ActivationClaimer = (*Accounts)(nil)
)

// NewAccounts returns an empty store.
func NewAccounts() *Accounts {
	return &Accounts{byID: map[string]*auth.Account{}}
}

func (s *Accounts) FindByID(_ context.Context, id string) (*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.byID[id]; ok {
		return a.Clone(), nil
	}
	return nil, auth.ErrAccountNotFound
}

func (s *Accounts) FindByEmail(_ context.Context, email string) (*auth.Account, error) {
	email = auth.NormalizeEmail(email)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.byID {
		if a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, auth.ErrAccountNotFound
}

func (s *Accounts) Find(_ context.Context, filter auth.AccountFilter) ([]*auth.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*auth.Account{}
	for _, a := range s.byID {
		if filter.Matches(a) {
			out = append(out, a.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *auth.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Accounts) Count(ctx context.Context, filter auth.AccountFilter) (int64, error) {
	list, err := s.Find(ctx, filter)
	return int64(len(list)), err
}

// Save creates or replaces the account. Emails stay unique.
func (s *Accounts) Save(_ context.Context, account *auth.Account) error {
	stored := account.Clone()
	stored.EnsureDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.byID {
		if id != stored.ID && a.Email == stored.Email {
			return auth.ErrEmailAlreadyExists
		}
	}
	s.byID[stored.ID] = stored
	return nil
}

// MarkActivated implements auth.ActivationClaimer.
func (s *Accounts) MarkActivated(_ context.Context, account *auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[account.ID]
	if !ok {
		return auth.ErrAccountNotFound
	}
	if current.IsActivated {
		return auth.ErrAlreadyProcessed
	}

	updated := current.Clone()
	updated.IsActivated = true
	updated.ActivatedBy = account.ActivatedBy
	updated.ActivationDate = account.ActivationDate
	updated.UpdatedAt = account.UpdatedAt
	s.byID[account.ID] = updated
	return nil
}

// TrackSuccessfulLogin updates the login timestamps in place.
func (s *Accounts) TrackSuccessfulLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return auth.ErrAccountNotFound
	}

	at = at.UTC()
	updated := current.Clone()
	updated.LastLoginAt = &at
	updated.UpdatedAt = at
	s.byID[id] = updated
	return nil
}

// Requests is an in-memory auth.ActivationRequestStore.
type Requests struct {
	mu         sync.RWMutex
	byID       map[string]*auth.ActivationRequest
	byDoctorID map[string]string
}

var (
	_ auth.ActivationRequestStore = (*Requests)(nil)
	_ auth.PendingResolver        = (*Requests)(nil)
)

// NewRequests returns an empty ledger.
func NewRequests() *Requests {
	return &Requests{
		byID:       map[string]*auth.ActivationRequest{},
		byDoctorID: map[string]string{},
	}
}

func (s *Requests) FindByID(_ context.Context, id string) (*auth.ActivationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.byID[id]; ok {
		return r.Clone(), nil
	}
	return nil, auth.ErrActivationRequestNotFound
}

func (s *Requests) FindByDoctorID(_ context.Context, doctorID string) (*auth.ActivationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byDoctorID[doctorID]; ok {
		return s.byID[id].Clone(), nil
	}
	return nil, auth.ErrActivationRequestNotFound
}

func (s *Requests) Find(_ context.Context, filter auth.ActivationRequestFilter) ([]*auth.ActivationRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*auth.ActivationRequest{}
	for _, r := range s.byID {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *auth.ActivationRequest) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Requests) Count(ctx context.Context, filter auth.ActivationRequestFilter) (int64, error) {
	list, err := s.Find(ctx, filter)
	return int64(len(list)), err
}

// Create inserts request, refusing a second entry for the same doctor.
func (s *Requests) Create(_ context.Context, request *auth.ActivationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byDoctorID[request.DoctorID]; exists {
		return auth.ErrActivationRequestExists
	}
	if _, exists := s.byID[request.ID]; exists {
		return auth.ErrActivationRequestExists
	}
	s.byID[request.ID] = request.Clone()
	s.byDoctorID[request.DoctorID] = request.ID
	return nil
}

// Save replaces request unconditionally.
func (s *Requests) Save(_ context.Context, request *auth.ActivationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[request.ID] = request.Clone()
	s.byDoctorID[request.DoctorID] = request.ID
	return nil
}

// ResolvePending implements auth.PendingResolver.
func (s *Requests) ResolvePending(_ context.Context, request *auth.ActivationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDoctorID[request.DoctorID]
	if !ok {
		return auth.ErrActivationRequestNotFound
	}
	current := s.byID[id]
	if !current.IsPending {
		return auth.ErrAlreadyProcessed
	}

	updated := current.Clone()
	updated.IsPending = false
	updated.Outcome = request.Outcome
	updated.ProcessedBy = request.ProcessedBy
	updated.ProcessedByEmail = request.ProcessedByEmail
	updated.ProcessedAt = request.ProcessedAt
	updated.ProcessingNotes = request.ProcessingNotes
	s.byID[id] = updated
	return nil
}
