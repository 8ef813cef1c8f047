package auth

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeNotFound                  = "NOT_FOUND"
	TextCodeDoctorNotFound            = "DOCTOR_NOT_FOUND"
	TextCodeAccountNotFound           = "ACCOUNT_NOT_FOUND"
	TextCodeActivationRequestNotFound = "ACTIVATION_REQUEST_NOT_FOUND"
	TextCodeInvalidAction             = "INVALID_ACTIVATION_ACTION"
	TextCodeAlreadyProcessed          = "ACTIVATION_ALREADY_PROCESSED"
	TextCodeAuthorizationDenied       = "AUTHORIZATION_DENIED"
	TextCodeAccountNotActivated       = "ACCOUNT_NOT_ACTIVATED"
	TextCodePartialActivation         = "PARTIAL_ACTIVATION_FAILURE"
	TextCodeInvalidToken              = "INVALID_TOKEN"
	TextCodeInvalidCredentials        = "INVALID_CREDENTIALS"
	TextCodeAccountLocked             = "ACCOUNT_LOCKED"
	TextCodeAccountSuspended          = "ACCOUNT_SUSPENDED"
	TextCodeAccountInactive           = "ACCOUNT_INACTIVE"
	TextCodeEmailAlreadyExists        = "EMAIL_ALREADY_EXISTS"
	TextCodeActivationRequestExists   = "ACTIVATION_REQUEST_EXISTS"
	TextCodeInvalidRegistration       = "INVALID_REGISTRATION"
	TextCodeProtectedClaimMutation    = "PROTECTED_CLAIM_MUTATION"
)

// ErrNotFound is the parent of every lookup failure.
var ErrNotFound = goerrors.New("resource not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeNotFound).
	WithCode(goerrors.CodeNotFound)

var (
	// ErrDoctorNotFound is returned when the target account is missing or is not a doctor.
	ErrDoctorNotFound = derive(ErrNotFound, "doctor not found", TextCodeDoctorNotFound)
	// ErrAccountNotFound is returned by stores for unknown account ids or emails.
	ErrAccountNotFound = derive(ErrNotFound, "account not found", TextCodeAccountNotFound)
	// ErrActivationRequestNotFound is returned when no ledger entry exists for a doctor.
	ErrActivationRequestNotFound = derive(ErrNotFound, "activation request not found", TextCodeActivationRequestNotFound)
)

// ErrInvalidAction is returned for action literals other than APPROVE or REJECT.
var ErrInvalidAction = goerrors.New("invalid action, must be APPROVE or REJECT", goerrors.CategoryBadInput).
	WithTextCode(TextCodeInvalidAction).
	WithCode(goerrors.CodeBadRequest)

// ErrAlreadyProcessed is returned when the ledger entry stopped being pending
// before the decision could be applied.
var ErrAlreadyProcessed = goerrors.New("activation request already processed", goerrors.CategoryConflict).
	WithTextCode(TextCodeAlreadyProcessed).
	WithCode(goerrors.CodeConflict)

// ErrAuthorizationDenied means the caller does not hold the required roles.
var ErrAuthorizationDenied = goerrors.New("authorization denied", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAuthorizationDenied).
	WithCode(goerrors.CodeForbidden)

// ErrAccountNotActivated means the caller holds DOCTOR but has not been
// approved yet. Access will be granted once an admin approves the request.
var ErrAccountNotActivated = goerrors.New("doctor account is not activated", goerrors.CategoryAuthz).
	WithTextCode(TextCodeAccountNotActivated).
	WithCode(goerrors.CodeForbidden)

// ErrPartialActivationFailure is returned when the account was activated but
// the ledger could not be resolved. It needs manual reconciliation.
var ErrPartialActivationFailure = goerrors.New("account activated but activation request not resolved", goerrors.CategoryInternal).
	WithTextCode(TextCodePartialActivation).
	WithCode(goerrors.CodeInternal)

// ErrInvalidToken covers every token validation failure.
var ErrInvalidToken = goerrors.New("invalid token", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidToken).
	WithCode(goerrors.CodeUnauthorized)

var ErrInvalidCredentials = goerrors.New("invalid email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrAccountLocked = goerrors.New("account is locked", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountLocked).
	WithCode(goerrors.CodeForbidden)

var ErrAccountSuspended = goerrors.New("account is suspended", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountSuspended).
	WithCode(goerrors.CodeForbidden)

var ErrAccountInactive = goerrors.New("account is inactive", goerrors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(goerrors.CodeForbidden)

var ErrEmailAlreadyExists = goerrors.New("email is already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeEmailAlreadyExists).
	WithCode(goerrors.CodeConflict)

// ErrActivationRequestExists is returned by stores when the unique doctor id
// constraint rejects an insert.
var ErrActivationRequestExists = goerrors.New("activation request already exists for doctor", goerrors.CategoryConflict).
	WithTextCode(TextCodeActivationRequestExists).
	WithCode(goerrors.CodeConflict)

var ErrInvalidRegistration = goerrors.New("invalid registration", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidRegistration).
	WithCode(goerrors.CodeBadRequest)

// ErrProtectedClaimMutation is returned when a ClaimsDecorator changes an
// identity or authorization claim.
var ErrProtectedClaimMutation = goerrors.New("claims decorator modified a protected claim", goerrors.CategoryInternal).
	WithTextCode(TextCodeProtectedClaimMutation).
	WithCode(goerrors.CodeInternal)

// HasTextCode walks the chain of rich errors looking for code.
func HasTextCode(err error, code string) bool {
	for err != nil {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) {
			return false
		}
		if richErr.TextCode == code {
			return true
		}
		err = errors.Unwrap(richErr)
	}
	return false
}

// IsNotFound reports lookup failures of any kind.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || HasTextCode(err, TextCodeNotFound) ||
		HasTextCode(err, TextCodeDoctorNotFound) ||
		HasTextCode(err, TextCodeAccountNotFound) ||
		HasTextCode(err, TextCodeActivationRequestNotFound)
}

func IsAlreadyProcessed(err error) bool {
	return HasTextCode(err, TextCodeAlreadyProcessed)
}

func IsAuthorizationDenied(err error) bool {
	return HasTextCode(err, TextCodeAuthorizationDenied)
}

func IsAccountNotActivated(err error) bool {
	return HasTextCode(err, TextCodeAccountNotActivated)
}

func IsPartialActivationFailure(err error) bool {
	return HasTextCode(err, TextCodePartialActivation)
}

func IsInvalidToken(err error) bool {
	return HasTextCode(err, TextCodeInvalidToken)
}

// derive builds a child sentinel that still matches parent with errors.Is.
func derive(parent *goerrors.Error, message, textCode string) *goerrors.Error {
	child := parent.Clone()
	child.Message = message
	child.TextCode = textCode
	child.Source = parent
	return child
}

// withDetails returns a copy of sentinel carrying metadata so shared
// sentinels are never mutated.
func withDetails(sentinel *goerrors.Error, metadata map[string]any) *goerrors.Error {
	clone := sentinel.Clone()
	clone.Source = sentinel
	if len(metadata) == 0 {
		return clone
	}
	return clone.WithMetadata(metadata)
}
