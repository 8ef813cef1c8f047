package auth

import (
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// AccountStatus is the lifecycle status of an account, independent of
// doctor activation.
type AccountStatus string

const (
	AccountStatusActive              AccountStatus = "ACTIVE"
	AccountStatusInactive            AccountStatus = "INACTIVE"
	AccountStatusPendingVerification AccountStatus = "PENDING_VERIFICATION"
	AccountStatusSuspended           AccountStatus = "SUSPENDED"
	AccountStatusLocked              AccountStatus = "LOCKED"
)

// Account is the persisted identity record.
type Account struct {
	bun.BaseModel `bun:"table:accounts,alias:acc" json:"-" bson:"-"`

	ID           string        `bun:"id,pk" json:"id" bson:"_id"`
	Email        string        `bun:"email,notnull,unique" json:"email" bson:"email"`
	PasswordHash string        `bun:"password_hash,notnull" json:"-" bson:"password_hash"`
	FirstName    string        `bun:"first_name,notnull" json:"first_name" bson:"first_name"`
	LastName     string        `bun:"last_name,notnull" json:"last_name" bson:"last_name"`
	Phone        string        `bun:"phone_number" json:"phone_number,omitempty" bson:"phone_number,omitempty"`
	Roles        RoleSet       `bun:"roles,type:varchar(64),notnull" json:"roles" bson:"roles"`
	Status       AccountStatus `bun:"status,notnull" json:"status" bson:"status"`

	EmailVerified bool `bun:"is_email_verified,notnull" json:"is_email_verified" bson:"is_email_verified"`

	IsActivated           bool       `bun:"is_activated,notnull" json:"is_activated" bson:"is_activated"`
	ActivationDate        *time.Time `bun:"activation_date,nullzero" json:"activation_date,omitempty" bson:"activation_date,omitempty"`
	ActivatedBy           string     `bun:"activated_by,nullzero" json:"activated_by,omitempty" bson:"activated_by,omitempty"`
	ActivationRequestDate *time.Time `bun:"activation_request_date,nullzero" json:"activation_request_date,omitempty" bson:"activation_request_date,omitempty"`

	MedicalLicenseNumber string `bun:"medical_license_number" json:"medical_license_number,omitempty" bson:"medical_license_number,omitempty"`
	Specialization       string `bun:"specialization" json:"specialization,omitempty" bson:"specialization,omitempty"`
	HospitalAffiliation  string `bun:"hospital_affiliation" json:"hospital_affiliation,omitempty" bson:"hospital_affiliation,omitempty"`
	YearsOfExperience    int    `bun:"years_of_experience" json:"years_of_experience,omitempty" bson:"years_of_experience,omitempty"`

	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at" bson:"updated_at"`
	LastLoginAt *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty" bson:"last_login_at,omitempty"`
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasRole reports whether the account holds role.
func (a *Account) HasRole(role Role) bool {
	if a == nil {
		return false
	}
	return a.Roles.Has(role)
}

// IsDoctor is a shortcut for HasRole(RoleDoctor).
func (a *Account) IsDoctor() bool { return a.HasRole(RoleDoctor) }

// IsAdmin is a shortcut for HasRole(RoleAdmin).
func (a *Account) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// FullName joins first and last name.
func (a *Account) FullName() string {
	if a == nil {
		return ""
	}
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// EnsureDefaults fills values every persisted account must carry.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	a.Email = NormalizeEmail(a.Email)
	a.Roles = a.Roles.Normalize()
	if a.Status == "" {
		a.Status = AccountStatusActive
	}
}

// Clone returns a deep copy so decisions never alias stored records.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.Roles = append(RoleSet(nil), a.Roles...)
	c.ActivationDate = cloneTime(a.ActivationDate)
	c.ActivationRequestDate = cloneTime(a.ActivationRequestDate)
	c.LastLoginAt = cloneTime(a.LastLoginAt)
	return &c
}

// ActivationRequest is the ledger entry tracking one doctor's review.
type ActivationRequest struct {
	bun.BaseModel `bun:"table:activation_requests,alias:ar" json:"-" bson:"-"`

	ID       string `bun:"id,pk" json:"id" bson:"_id"`
	DoctorID string `bun:"doctor_id,notnull,unique" json:"doctor_id" bson:"doctor_id"`

	DoctorEmail          string `bun:"doctor_email,notnull" json:"doctor_email" bson:"doctor_email"`
	DoctorFullName       string `bun:"doctor_full_name,notnull" json:"doctor_full_name" bson:"doctor_full_name"`
	MedicalLicenseNumber string `bun:"medical_license_number" json:"medical_license_number" bson:"medical_license_number"`
	Specialization       string `bun:"specialization" json:"specialization" bson:"specialization"`
	HospitalAffiliation  string `bun:"hospital_affiliation" json:"hospital_affiliation,omitempty" bson:"hospital_affiliation,omitempty"`
	YearsOfExperience    int    `bun:"years_of_experience" json:"years_of_experience" bson:"years_of_experience"`

	IsPending        bool            `bun:"is_pending,notnull" json:"is_pending" bson:"is_pending"`
	Outcome          ActivationState `bun:"outcome,nullzero" json:"outcome,omitempty" bson:"outcome,omitempty"`
	ProcessedBy      string          `bun:"processed_by,nullzero" json:"processed_by,omitempty" bson:"processed_by,omitempty"`
	ProcessedByEmail string          `bun:"processed_by_email,nullzero" json:"processed_by_email,omitempty" bson:"processed_by_email,omitempty"`
	ProcessedAt      *time.Time      `bun:"processed_at,nullzero" json:"processed_at,omitempty" bson:"processed_at,omitempty"`
	ProcessingNotes  string          `bun:"processing_notes,nullzero" json:"processing_notes,omitempty" bson:"processing_notes,omitempty"`

	RequestedAt time.Time `bun:"requested_at,notnull" json:"requested_at" bson:"requested_at"`
}

// State maps the ledger flags onto the workflow states.
func (r *ActivationRequest) State() ActivationState {
	switch {
	case r == nil:
		return StateNoRequest
	case r.IsPending:
		return StatePending
	case r.Outcome != "":
		return r.Outcome
	default:
		// resolved before outcomes were recorded
		return StateApproved
	}
}

// Clone returns a deep copy.
func (r *ActivationRequest) Clone() *ActivationRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.ProcessedAt = cloneTime(r.ProcessedAt)
	return &c
}

// PendingDoctor is one entry of the review queue. RequestID is nil when
// the doctor has no ledger entry at all, which signals drift.
type PendingDoctor struct {
	RequestID             *string    `json:"request_id"`
	DoctorID              string     `json:"doctor_id"`
	Email                 string     `json:"email"`
	FullName              string     `json:"full_name"`
	MedicalLicenseNumber  string     `json:"medical_license_number"`
	Specialization        string     `json:"specialization"`
	HospitalAffiliation   string     `json:"hospital_affiliation,omitempty"`
	YearsOfExperience     int        `json:"years_of_experience"`
	RegisteredAt          time.Time  `json:"registered_at"`
	ActivationRequestDate *time.Time `json:"activation_request_date,omitempty"`
}

// HasLedgerEntry reports whether the queue entry is backed by a request.
func (p PendingDoctor) HasLedgerEntry() bool {
	return p.RequestID != nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
