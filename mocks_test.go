package auth_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	auth "github.com/healthapp/go-auth"
	"github.com/healthapp/go-auth/repository/memory"
)

// MockAccountStore implements auth.AccountStore without conditional
// updates, exercising the workflow fallback path.
type MockAccountStore struct {
	mock.Mock
}

func (m *MockAccountStore) FindByID(ctx context.Context, id string) (*auth.Account, error) {
	args := m.Called(ctx, id)
	if acc, ok := args.Get(0).(*auth.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	if acc, ok := args.Get(0).(*auth.Account); ok {
		return acc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) Find(ctx context.Context, filter auth.AccountFilter) ([]*auth.Account, error) {
	args := m.Called(ctx, filter)
	if list, ok := args.Get(0).([]*auth.Account); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAccountStore) Count(ctx context.Context, filter auth.AccountFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockAccountStore) Save(ctx context.Context, account *auth.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountStore) TrackSuccessfulLogin(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// faultyRequests wraps the memory ledger and can make resolution writes
// fail, leaving creation and reads untouched.
type faultyRequests struct {
	*memory.Requests
	mu  sync.Mutex
	err error
}

func newFaultyRequests() *faultyRequests {
	return &faultyRequests{Requests: memory.NewRequests()}
}

// failResolutions makes every later resolution write return err. Pass nil
// to reset.
func (s *faultyRequests) failResolutions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *faultyRequests) fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *faultyRequests) Save(ctx context.Context, request *auth.ActivationRequest) error {
	if err := s.fault(); err != nil && !request.IsPending {
		return err
	}
	return s.Requests.Save(ctx, request)
}

func (s *faultyRequests) ResolvePending(ctx context.Context, request *auth.ActivationRequest) error {
	if err := s.fault(); err != nil {
		return err
	}
	return s.Requests.ResolvePending(ctx, request)
}

// MockActivationRequestStore implements auth.ActivationRequestStore.
type MockActivationRequestStore struct {
	mock.Mock
}

func (m *MockActivationRequestStore) FindByID(ctx context.Context, id string) (*auth.ActivationRequest, error) {
	args := m.Called(ctx, id)
	if r, ok := args.Get(0).(*auth.ActivationRequest); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockActivationRequestStore) FindByDoctorID(ctx context.Context, doctorID string) (*auth.ActivationRequest, error) {
	args := m.Called(ctx, doctorID)
	if r, ok := args.Get(0).(*auth.ActivationRequest); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockActivationRequestStore) Find(ctx context.Context, filter auth.ActivationRequestFilter) ([]*auth.ActivationRequest, error) {
	args := m.Called(ctx, filter)
	if list, ok := args.Get(0).([]*auth.ActivationRequest); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockActivationRequestStore) Count(ctx context.Context, filter auth.ActivationRequestFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockActivationRequestStore) Create(ctx context.Context, request *auth.ActivationRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

func (m *MockActivationRequestStore) Save(ctx context.Context, request *auth.ActivationRequest) error {
	args := m.Called(ctx, request)
	return args.Error(0)
}

// MockNotifier implements auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, n auth.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// MockConfig implements auth.Config.
type MockConfig struct {
	mock.Mock
}

func (m *MockConfig) GetSigningKey() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetIssuer() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockConfig) GetAudience() []string {
	args := m.Called()
	return args.Get(0).([]string)
}

func (m *MockConfig) GetAccessTokenTTL() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func (m *MockConfig) GetRefreshTokenTTL() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}

func newMockConfig() *MockConfig {
	cfg := new(MockConfig)
	cfg.On("GetSigningKey").Return("test-signing-key-with-enough-bytes")
	cfg.On("GetIssuer").Return("health-app")
	cfg.On("GetAudience").Return([]string{"health-app"})
	cfg.On("GetAccessTokenTTL").Return(15 * time.Minute)
	cfg.On("GetRefreshTokenTTL").Return(24 * time.Hour)
	return cfg
}

// recordingSink keeps every activity event.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, e auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

// captureLogger keeps formatted lines per level.
type captureLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{lines: map[string][]string{}}
}

func (l *captureLogger) add(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[level] = append(l.lines[level], fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.add("debug", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.add("info", format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.add("warn", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.add("error", format, args...) }

func (l *captureLogger) get(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines[level]...)
}

var testNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func newDoctor(id string, created time.Time) *auth.Account {
	return &auth.Account{
		ID:                   id,
		Email:                id + "@clinic.test",
		PasswordHash:         "hash",
		FirstName:            "Doc",
		LastName:             id,
		Roles:                auth.NewRoleSet(auth.RoleDoctor),
		Status:               auth.AccountStatusActive,
		MedicalLicenseNumber: "LIC-" + id,
		Specialization:       "Cardiology",
		YearsOfExperience:    4,
		CreatedAt:            created,
		UpdatedAt:            created,
	}
}

func pendingRequest(doctorID string) *auth.ActivationRequest {
	return &auth.ActivationRequest{
		ID:             auth.RequestIDForDoctor(doctorID),
		DoctorID:       doctorID,
		DoctorEmail:    doctorID + "@clinic.test",
		DoctorFullName: "Doc " + doctorID,
		IsPending:      true,
		RequestedAt:    testNow.Add(-time.Hour),
	}
}

var adminActor = auth.Actor{ID: "admin-1", Email: "admin@clinic.test", Roles: auth.NewRoleSet(auth.RoleAdmin)}
