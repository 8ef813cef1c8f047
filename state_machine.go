package auth

import (
	"strings"
	"time"
)

// ActivationState is the workflow state of one doctor.
type ActivationState string

const (
	StateNoRequest ActivationState = "NO_REQUEST"
	StatePending   ActivationState = "PENDING"
	StateApproved  ActivationState = "APPROVED"
	StateRejected  ActivationState = "REJECTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s ActivationState) IsTerminal() bool {
	return s == StateApproved || s == StateRejected
}

// ActivationAction is the decision an admin takes on a pending request.
type ActivationAction string

const (
	ActionApprove ActivationAction = "APPROVE"
	ActionReject  ActivationAction = "REJECT"
)

// ParseActivationAction matches raw case-insensitively against APPROVE and
// REJECT. Anything else, including surrounding whitespace, is rejected.
func ParseActivationAction(raw string) (ActivationAction, error) {
	switch {
	case strings.EqualFold(raw, string(ActionApprove)):
		return ActionApprove, nil
	case strings.EqualFold(raw, string(ActionReject)):
		return ActionReject, nil
	default:
		return "", withDetails(ErrInvalidAction, map[string]any{
			"action": raw,
		})
	}
}

// Target is the state the action moves a pending request to.
func (a ActivationAction) Target() ActivationState {
	switch a {
	case ActionApprove:
		return StateApproved
	case ActionReject:
		return StateRejected
	default:
		return ""
	}
}

// DefaultRejectionMessage is sent to rejected doctors when the admin left
// no notes.
const DefaultRejectionMessage = "Your credentials could not be verified at this time."

// DecisionInput is everything the state machine needs to decide.
type DecisionInput struct {
	Doctor  *Account
	Request *ActivationRequest
	Action  ActivationAction
	Admin   Actor
	Notes   string
}

// ActivationDecision is the outcome of a decision. Account and Request are
// new values, the inputs are never modified. AccountChanged is false when
// the account must not be written.
type ActivationDecision struct {
	Action         ActivationAction
	From           ActivationState
	To             ActivationState
	Account        *Account
	AccountChanged bool
	Request        *ActivationRequest
	Notification   Notification
	DecidedAt      time.Time
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*ActivationStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *ActivationStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithDefaultRejectionMessage overrides the reason used when notes are blank.
func WithDefaultRejectionMessage(msg string) StateMachineOption {
	return func(sm *ActivationStateMachine) {
		if strings.TrimSpace(msg) != "" {
			sm.rejectionMessage = msg
		}
	}
}

// ActivationStateMachine holds the transition graph and decides
// transitions without touching storage.
type ActivationStateMachine struct {
	transitions      map[ActivationState]map[ActivationState]struct{}
	now              func() time.Time
	rejectionMessage string
}

// NewActivationStateMachine returns the doctor activation state machine.
func NewActivationStateMachine(opts ...StateMachineOption) *ActivationStateMachine {
	sm := &ActivationStateMachine{
		transitions: map[ActivationState]map[ActivationState]struct{}{
			StateNoRequest: {
				StatePending: {},
			},
			StatePending: {
				StateApproved: {},
				StateRejected: {},
			},
		},
		now:              time.Now,
		rejectionMessage: DefaultRejectionMessage,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// CanTransition reports whether from -> to is part of the graph.
func (sm *ActivationStateMachine) CanTransition(from, to ActivationState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Decide validates the input and computes the resulting records and the
// notification to send. It performs no I/O.
func (sm *ActivationStateMachine) Decide(in DecisionInput) (ActivationDecision, error) {
	if !in.Admin.Roles.Has(RoleAdmin) {
		return ActivationDecision{}, withDetails(ErrAuthorizationDenied, map[string]any{
			"actor":    in.Admin.ID,
			"required": AnyOf(RoleAdmin).String(),
		})
	}

	target := in.Action.Target()
	if target == "" {
		return ActivationDecision{}, withDetails(ErrInvalidAction, map[string]any{
			"action": string(in.Action),
		})
	}

	if in.Doctor == nil || !in.Doctor.IsDoctor() {
		meta := map[string]any{"reason": "account is missing"}
		if in.Doctor != nil {
			meta = map[string]any{"doctor_id": in.Doctor.ID, "reason": "account is not a doctor"}
		}
		return ActivationDecision{}, withDetails(ErrDoctorNotFound, meta)
	}

	if in.Request == nil || in.Request.DoctorID != in.Doctor.ID {
		return ActivationDecision{}, withDetails(ErrActivationRequestNotFound, map[string]any{
			"doctor_id": in.Doctor.ID,
		})
	}

	from := in.Request.State()
	if !sm.CanTransition(from, target) {
		return ActivationDecision{}, withDetails(ErrAlreadyProcessed, map[string]any{
			"doctor_id": in.Doctor.ID,
			"state":     string(from),
		})
	}

	// An activated doctor with a pending entry is mid-approval or drifted.
	// Either way the entry belongs to the approver or to reconciliation.
	if in.Doctor.IsActivated {
		return ActivationDecision{}, withDetails(ErrAlreadyProcessed, map[string]any{
			"doctor_id": in.Doctor.ID,
			"reason":    "account already activated",
		})
	}

	now := sm.now().UTC()
	notes := strings.TrimSpace(in.Notes)

	decision := ActivationDecision{
		Action:    in.Action,
		From:      from,
		To:        target,
		Account:   in.Doctor.Clone(),
		Request:   resolveRequest(in.Request, target, in.Admin, notes, now),
		DecidedAt: now,
	}

	switch in.Action {
	case ActionApprove:
		decision.Account.IsActivated = true
		decision.Account.ActivatedBy = in.Admin.ID
		decision.Account.ActivationDate = &now
		decision.Account.UpdatedAt = now
		decision.AccountChanged = true
		decision.Notification = Notification{
			Template:  TemplateDoctorActivated,
			Recipient: in.Doctor.Email,
			Data: map[string]any{
				"doctor_name":  in.Doctor.FullName(),
				"notes":        notes,
				"activated_at": now,
			},
		}
	case ActionReject:
		reason := notes
		if reason == "" {
			reason = sm.rejectionMessage
		}
		decision.Notification = Notification{
			Template:  TemplateDoctorRejected,
			Recipient: in.Doctor.Email,
			Data: map[string]any{
				"doctor_name": in.Doctor.FullName(),
				"reason":      reason,
			},
		}
	}

	return decision, nil
}

// resolveRequest returns a resolved copy of req. All resolution fields are
// set together.
func resolveRequest(req *ActivationRequest, outcome ActivationState, admin Actor, notes string, at time.Time) *ActivationRequest {
	resolved := req.Clone()
	resolved.IsPending = false
	resolved.Outcome = outcome
	resolved.ProcessedBy = admin.ID
	resolved.ProcessedByEmail = admin.Email
	resolved.ProcessedAt = &at
	resolved.ProcessingNotes = notes
	return resolved
}
