package auth

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse phone numbers without a country code.
const DefaultPhoneRegion = "US"

// RegisterAccountMessage is a self-registration. Role is USER or DOCTOR;
// admins are never self-registered.
type RegisterAccountMessage struct {
	FirstName            string `json:"first_name"`
	LastName             string `json:"last_name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	Phone                string `json:"phone"`
	Role                 string `json:"role"`
	MedicalLicenseNumber string `json:"medical_license_number"`
	Specialization       string `json:"specialization"`
	HospitalAffiliation  string `json:"hospital_affiliation"`
	YearsOfExperience    int    `json:"years_of_experience"`
}

func (e RegisterAccountMessage) Type() string { return "account.register" }

// IsDoctor reports whether the message registers a doctor.
func (e RegisterAccountMessage) IsDoctor() bool {
	role, _ := ParseRole(e.Role)
	return role == RoleDoctor
}

// Validate checks the message fields.
func (e RegisterAccountMessage) Validate() error {
	normalized := e
	normalized.Role = strings.ToUpper(strings.TrimSpace(e.Role))
	normalized.Email = NormalizeEmail(e.Email)

	err := validation.ValidateStruct(&normalized,
		validation.Field(&normalized.FirstName, validation.Required, validation.Length(1, 50)),
		validation.Field(&normalized.LastName, validation.Required, validation.Length(1, 50)),
		validation.Field(&normalized.Email, validation.Required, is.Email),
		validation.Field(&normalized.Password, validation.Required, validation.Length(8, 100)),
		validation.Field(&normalized.Role, validation.Required, validation.In(string(RoleUser), string(RoleDoctor))),
	)
	if err != nil {
		return err
	}

	if !e.IsDoctor() {
		return nil
	}

	return validation.ValidateStruct(&normalized,
		validation.Field(&normalized.MedicalLicenseNumber, validation.Required, validation.Length(3, 64)),
		validation.Field(&normalized.Specialization, validation.Required, validation.Length(2, 100)),
		validation.Field(&normalized.HospitalAffiliation, validation.Length(0, 200)),
		validation.Field(&normalized.YearsOfExperience, validation.Min(0), validation.Max(80)),
	)
}

// RegisterOption customizes the registration handler.
type RegisterOption func(*RegisterAccountHandler)

// WithRegistrationNotifier sets the notifier used to alert admins.
func WithRegistrationNotifier(n Notifier) RegisterOption {
	return func(h *RegisterAccountHandler) {
		h.notifier = normalizeNotifier(n)
	}
}

// WithRegistrationHasher overrides the password hasher.
func WithRegistrationHasher(hasher PasswordHasher) RegisterOption {
	return func(h *RegisterAccountHandler) {
		if hasher != nil {
			h.hasher = hasher
		}
	}
}

// WithRegistrationLogger overrides the logger.
func WithRegistrationLogger(l Logger) RegisterOption {
	return func(h *RegisterAccountHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRegistrationActivitySink publishes registration events.
func WithRegistrationActivitySink(sink ActivitySink) RegisterOption {
	return func(h *RegisterAccountHandler) {
		h.activity = normalizeActivitySink(sink)
	}
}

// WithRegistrationMetrics enables notification counters.
func WithRegistrationMetrics(m *Metrics) RegisterOption {
	return func(h *RegisterAccountHandler) {
		h.metrics = m
	}
}

// WithPhoneRegion sets the default region for phone parsing.
func WithPhoneRegion(region string) RegisterOption {
	return func(h *RegisterAccountHandler) {
		if region != "" {
			h.phoneRegion = strings.ToUpper(region)
		}
	}
}

// WithRegistrationClock injects a custom clock.
func WithRegistrationClock(clock func() time.Time) RegisterOption {
	return func(h *RegisterAccountHandler) {
		if clock != nil {
			h.now = clock
		}
	}
}

// RegisterAccountHandler creates accounts and, for doctors, their
// activation request.
type RegisterAccountHandler struct {
	accounts    AccountStore
	workflow    *ActivationWorkflow
	hasher      PasswordHasher
	notifier    Notifier
	activity    ActivitySink
	logger      Logger
	metrics     *Metrics
	phoneRegion string
	now         func() time.Time
}

// NewRegisterAccountHandler wires the handler.
func NewRegisterAccountHandler(accounts AccountStore, workflow *ActivationWorkflow, opts ...RegisterOption) *RegisterAccountHandler {
	h := &RegisterAccountHandler{
		accounts:    accounts,
		workflow:    workflow,
		hasher:      NewBcryptHasher(0),
		notifier:    noopNotifier{},
		activity:    noopActivitySink{},
		logger:      defLogger{},
		phoneRegion: DefaultPhoneRegion,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *RegisterAccountHandler) Execute(ctx context.Context, event RegisterAccountMessage) error {
	_, err := h.Register(ctx, event)
	return err
}

// Register validates and persists the account.
func (h *RegisterAccountHandler) Register(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account registration",
		)
	default:
		return h.register(ctx, event)
	}
}

func (h *RegisterAccountHandler) register(ctx context.Context, event RegisterAccountMessage) (*Account, error) {
	if err := event.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, ErrInvalidRegistration.Message).
			WithTextCode(TextCodeInvalidRegistration).
			WithCode(goerrors.CodeBadRequest)
	}

	phone, err := normalizePhone(event.Phone, h.phoneRegion)
	if err != nil {
		return nil, err
	}

	email := NormalizeEmail(event.Email)
	if _, err := h.accounts.FindByEmail(ctx, email); err == nil {
		return nil, withDetails(ErrEmailAlreadyExists, map[string]any{"email": email})
	} else if !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check email availability")
	}

	hash, err := h.hasher.Hash(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	now := h.now().UTC()
	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(event.FirstName),
		LastName:     strings.TrimSpace(event.LastName),
		Phone:        phone,
		Roles:        NewRoleSet(RoleUser),
		Status:       AccountStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if event.IsDoctor() {
		account.Roles = NewRoleSet(RoleDoctor)
		account.MedicalLicenseNumber = strings.TrimSpace(event.MedicalLicenseNumber)
		account.Specialization = strings.TrimSpace(event.Specialization)
		account.HospitalAffiliation = strings.TrimSpace(event.HospitalAffiliation)
		account.YearsOfExperience = event.YearsOfExperience
		account.ActivationRequestDate = &now
	}

	if err := h.accounts.Save(ctx, account); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create account")
	}

	recordActivity(ctx, h.activity, h.logger, h.now, ActivityEvent{
		EventType: ActivityEventAccountRegistered,
		Actor:     ActorRef{ID: account.ID, Type: "user"},
		AccountID: account.ID,
		Metadata:  map[string]any{"roles": account.Roles.Strings()},
	})

	if !account.IsDoctor() {
		return account, nil
	}

	if _, err := h.workflow.CreateActivationRequest(ctx, account); err != nil {
		h.logger.Error("doctor %s registered without activation request: %v", account.ID, err)
		return account, err
	}

	h.notifyAdmins(ctx, account)
	return account, nil
}

// notifyAdmins alerts every admin about a new doctor. Failures are logged.
func (h *RegisterAccountHandler) notifyAdmins(ctx context.Context, doctor *Account) {
	admins, err := h.accounts.Find(ctx, AccountFilter{Role: RoleAdmin})
	if err != nil {
		h.logger.Error("failed to list admins for doctor %s registration notice: %v", doctor.ID, err)
		return
	}
	if len(admins) == 0 {
		h.logger.Warn("no admin to notify about doctor %s", doctor.ID)
		return
	}

	for _, admin := range admins {
		dispatch(ctx, h.notifier, h.logger, h.metrics, Notification{
			Template:  TemplateDoctorRegistered,
			Recipient: admin.Email,
			Data: map[string]any{
				"admin_name":          admin.FullName(),
				"doctor_id":           doctor.ID,
				"doctor_name":         doctor.FullName(),
				"doctor_email":        doctor.Email,
				"license":             doctor.MedicalLicenseNumber,
				"specialization":      doctor.Specialization,
				"hospital":            doctor.HospitalAffiliation,
				"years_of_experience": doctor.YearsOfExperience,
				"registered_at":       doctor.CreatedAt,
			},
		})
	}
}

// normalizePhone returns the E.164 form of raw, or "" when raw is blank.
func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", withDetails(ErrInvalidRegistration, map[string]any{
			"field":  "phone",
			"reason": "invalid phone number",
		})
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
