package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
)

// ReconciliationNote is written on ledger entries repaired by
// ReconcileActivations.
const ReconciliationNote = "resolved by reconciliation: account was already activated"

// ActivationResult is returned by a successful decision.
type ActivationResult struct {
	Action  ActivationAction
	Account *Account
	Request *ActivationRequest
}

// ReconcileReport is the outcome of ReconcileActivations. Repaired holds
// the pending entries that were resolved as approved. Conflicts holds the
// rejected entries of doctors whose account is nevertheless activated;
// those are left untouched for an operator to decide.
type ReconcileReport struct {
	Repaired  []*ActivationRequest
	Conflicts []*ActivationRequest
}

// ActivationStatusView is what a doctor sees about their own activation.
type ActivationStatusView struct {
	IsActivated           bool            `json:"is_activated"`
	Status                string          `json:"status"`
	Message               string          `json:"message"`
	ActivationRequestDate *time.Time      `json:"activation_request_date,omitempty"`
	ActivationDate        *time.Time      `json:"activation_date,omitempty"`
	State                 ActivationState `json:"state"`
}

const (
	StatusActivated         = "ACTIVATED"
	StatusPendingActivation = "PENDING_ACTIVATION"
	StatusRejected          = "REJECTED"
)

// WorkflowOption customizes the workflow.
type WorkflowOption func(*ActivationWorkflow)

// WithWorkflowNotifier sets the notifier used for decision messages.
func WithWorkflowNotifier(n Notifier) WorkflowOption {
	return func(w *ActivationWorkflow) {
		w.notifier = normalizeNotifier(n)
	}
}

// WithWorkflowLogger overrides the logger.
func WithWorkflowLogger(l Logger) WorkflowOption {
	return func(w *ActivationWorkflow) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkflowActivitySink sets the ActivitySink used to publish workflow events.
func WithWorkflowActivitySink(sink ActivitySink) WorkflowOption {
	return func(w *ActivationWorkflow) {
		w.activity = normalizeActivitySink(sink)
	}
}

// WithWorkflowMetrics enables prometheus counters.
func WithWorkflowMetrics(m *Metrics) WorkflowOption {
	return func(w *ActivationWorkflow) {
		w.metrics = m
	}
}

// WithWorkflowClock injects a custom clock. It is shared with the default
// state machine.
func WithWorkflowClock(clock func() time.Time) WorkflowOption {
	return func(w *ActivationWorkflow) {
		if clock != nil {
			w.now = clock
		}
	}
}

// WithWorkflowStateMachine replaces the state machine.
func WithWorkflowStateMachine(sm *ActivationStateMachine) WorkflowOption {
	return func(w *ActivationWorkflow) {
		if sm != nil {
			w.machine = sm
		}
	}
}

// WithRequestIDGenerator overrides how ledger ids are derived from doctor ids.
func WithRequestIDGenerator(fn func(doctorID string) string) WorkflowOption {
	return func(w *ActivationWorkflow) {
		if fn != nil {
			w.newID = fn
		}
	}
}

// ActivationWorkflow orchestrates doctor activation across the account
// store and the ledger. It is the only component that mutates both.
type ActivationWorkflow struct {
	accounts AccountStore
	requests ActivationRequestStore
	machine  *ActivationStateMachine
	notifier Notifier
	activity ActivitySink
	logger   Logger
	metrics  *Metrics
	now      func() time.Time
	newID    func(doctorID string) string
}

// NewActivationWorkflow wires the workflow to its stores.
func NewActivationWorkflow(accounts AccountStore, requests ActivationRequestStore, opts ...WorkflowOption) *ActivationWorkflow {
	w := &ActivationWorkflow{
		accounts: accounts,
		requests: requests,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
		newID:    RequestIDForDoctor,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}

	if w.machine == nil {
		w.machine = NewActivationStateMachine(WithStateMachineClock(w.now))
	}

	return w
}

// RequestIDForDoctor derives a stable ledger id so that two creations for
// the same doctor collide on the primary key as well.
func RequestIDForDoctor(doctorID string) string {
	id, err := hashid.NewUUID(doctorID)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateActivationRequest records a pending request for doctor. If any
// entry already exists for the doctor, pending or resolved, it is
// returned unchanged.
func (w *ActivationWorkflow) CreateActivationRequest(ctx context.Context, doctor *Account) (*ActivationRequest, error) {
	if doctor == nil || !doctor.IsDoctor() {
		meta := map[string]any{"reason": "account is missing"}
		if doctor != nil {
			meta = map[string]any{"doctor_id": doctor.ID, "reason": "account is not a doctor"}
		}
		return nil, withDetails(ErrDoctorNotFound, meta)
	}

	existing, err := w.requests.FindByDoctorID(ctx, doctor.ID)
	switch {
	case err == nil:
		w.logger.Debug("activation request for doctor %s already exists (%s)", doctor.ID, existing.State())
		return existing, nil
	case !IsNotFound(err):
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up activation request")
	}

	now := w.now().UTC()
	requestedAt := now
	if doctor.ActivationRequestDate != nil {
		requestedAt = doctor.ActivationRequestDate.UTC()
	}

	request := &ActivationRequest{
		ID:                   w.newID(doctor.ID),
		DoctorID:             doctor.ID,
		DoctorEmail:          doctor.Email,
		DoctorFullName:       doctor.FullName(),
		MedicalLicenseNumber: doctor.MedicalLicenseNumber,
		Specialization:       doctor.Specialization,
		HospitalAffiliation:  doctor.HospitalAffiliation,
		YearsOfExperience:    doctor.YearsOfExperience,
		IsPending:            true,
		RequestedAt:          requestedAt,
	}

	if err := w.requests.Create(ctx, request); err != nil {
		if !HasTextCode(err, TextCodeActivationRequestExists) {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create activation request")
		}
		// lost a creation race, the stored entry wins
		existing, ferr := w.requests.FindByDoctorID(ctx, doctor.ID)
		if ferr != nil {
			return nil, goerrors.Wrap(ferr, goerrors.CategoryInternal, "failed to load existing activation request")
		}
		return existing, nil
	}

	w.metrics.requestCreated()
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventActivationRequested,
		Actor:     ActorRef{ID: doctor.ID, Type: "doctor"},
		AccountID: doctor.ID,
		FromState: StateNoRequest,
		ToState:   StatePending,
		Metadata:  map[string]any{"request_id": request.ID},
	})
	w.logger.Info("activation request %s created for doctor %s", request.ID, doctor.ID)

	return request.Clone(), nil
}

// ProcessActivationRequest applies an admin decision. The account is
// written before the ledger; if the ledger write fails after the account
// was activated the returned error matches IsPartialActivationFailure.
func (w *ActivationWorkflow) ProcessActivationRequest(ctx context.Context, action, doctorID, notes string, admin Actor) (*ActivationResult, error) {
	if !admin.Roles.Has(RoleAdmin) {
		return nil, withDetails(ErrAuthorizationDenied, map[string]any{
			"actor":    admin.ID,
			"required": AnyOf(RoleAdmin).String(),
		})
	}

	act, err := ParseActivationAction(action)
	if err != nil {
		return nil, err
	}

	doctor, err := w.accounts.FindByID(ctx, doctorID)
	if err != nil {
		if IsNotFound(err) {
			return nil, withDetails(ErrDoctorNotFound, map[string]any{"doctor_id": doctorID})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load doctor")
	}

	request, err := w.requests.FindByDoctorID(ctx, doctorID)
	if err != nil && !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load activation request")
	}

	decision, err := w.machine.Decide(DecisionInput{
		Doctor:  doctor,
		Request: request,
		Action:  act,
		Admin:   admin,
		Notes:   notes,
	})
	if err != nil {
		if IsAlreadyProcessed(err) {
			w.metrics.alreadyProcessed()
		}
		return nil, err
	}

	return w.apply(ctx, decision, admin)
}

func (w *ActivationWorkflow) apply(ctx context.Context, decision ActivationDecision, admin Actor) (*ActivationResult, error) {
	doctorID := decision.Request.DoctorID

	if decision.AccountChanged {
		if err := w.ensurePending(ctx, doctorID); err != nil {
			return nil, w.refused(err)
		}
		if err := w.persistActivation(ctx, decision.Account); err != nil {
			return nil, w.refused(err)
		}
	}

	if err := w.persistResolution(ctx, decision.Request); err != nil {
		if !decision.AccountChanged {
			return nil, w.refused(err)
		}
		return nil, w.partialFailure(ctx, decision, admin, err)
	}

	w.metrics.decision(decision.Action)
	eventType := ActivityEventActivationApproved
	if decision.Action == ActionReject {
		eventType = ActivityEventActivationRejected
	}
	w.record(ctx, ActivityEvent{
		EventType: eventType,
		Actor:     admin.Ref(),
		AccountID: doctorID,
		FromState: decision.From,
		ToState:   decision.To,
		Metadata:  map[string]any{"request_id": decision.Request.ID, "notes": decision.Request.ProcessingNotes},
	})
	w.logger.Info("activation request for doctor %s %s by admin %s", doctorID, strings.ToLower(string(decision.To)), admin.ID)

	dispatch(ctx, w.notifier, w.logger, w.metrics, decision.Notification)

	return &ActivationResult{
		Action:  decision.Action,
		Account: decision.Account.Clone(),
		Request: decision.Request.Clone(),
	}, nil
}

func (w *ActivationWorkflow) refused(err error) error {
	if IsAlreadyProcessed(err) {
		w.metrics.alreadyProcessed()
		return err
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist activation decision")
}

func (w *ActivationWorkflow) partialFailure(ctx context.Context, decision ActivationDecision, admin Actor, cause error) error {
	doctorID := decision.Request.DoctorID
	w.metrics.partialFailure()
	w.logger.Error(
		"PARTIAL ACTIVATION: doctor %s activated by admin %s but request %s was not resolved, reconcile manually: %v",
		doctorID, admin.ID, decision.Request.ID, cause,
	)
	w.record(ctx, ActivityEvent{
		EventType: ActivityEventActivationPartialFailure,
		Actor:     admin.Ref(),
		AccountID: doctorID,
		FromState: decision.From,
		ToState:   decision.To,
		Metadata:  map[string]any{"request_id": decision.Request.ID, "error": cause.Error()},
	})

	return goerrors.Wrap(cause, ErrPartialActivationFailure.Category, ErrPartialActivationFailure.Message).
		WithTextCode(ErrPartialActivationFailure.TextCode).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{
			"doctor_id":  doctorID,
			"request_id": decision.Request.ID,
			"admin_id":   admin.ID,
		})
}

// ensurePending re-reads the ledger right before the account is touched.
func (w *ActivationWorkflow) ensurePending(ctx context.Context, doctorID string) error {
	current, err := w.requests.FindByDoctorID(ctx, doctorID)
	if err != nil {
		if IsNotFound(err) {
			return withDetails(ErrActivationRequestNotFound, map[string]any{"doctor_id": doctorID})
		}
		return err
	}
	if !current.IsPending {
		return withDetails(ErrAlreadyProcessed, map[string]any{"doctor_id": doctorID, "state": string(current.State())})
	}
	return nil
}

func (w *ActivationWorkflow) persistActivation(ctx context.Context, account *Account) error {
	if claimer, ok := w.accounts.(ActivationClaimer); ok {
		return claimer.MarkActivated(ctx, account)
	}

	current, err := w.accounts.FindByID(ctx, account.ID)
	if err != nil {
		return err
	}
	if current.IsActivated {
		return withDetails(ErrAlreadyProcessed, map[string]any{"doctor_id": account.ID, "reason": "account already activated"})
	}
	return w.accounts.Save(ctx, account)
}

func (w *ActivationWorkflow) persistResolution(ctx context.Context, request *ActivationRequest) error {
	if resolver, ok := w.requests.(PendingResolver); ok {
		return resolver.ResolvePending(ctx, request)
	}

	if err := w.ensurePending(ctx, request.DoctorID); err != nil {
		return err
	}
	return w.requests.Save(ctx, request)
}

// GetPendingDoctorRequests returns un-activated doctors awaiting review,
// oldest registration first. Doctors with no ledger entry are included
// with a nil RequestID; rejected doctors are not.
func (w *ActivationWorkflow) GetPendingDoctorRequests(ctx context.Context) ([]PendingDoctor, error) {
	return w.pendingQueue(ctx)
}

// CountPendingDoctorRequests counts the same selection as
// GetPendingDoctorRequests.
func (w *ActivationWorkflow) CountPendingDoctorRequests(ctx context.Context) (int, error) {
	queue, err := w.pendingQueue(ctx)
	if err != nil {
		return 0, err
	}
	return len(queue), nil
}

func (w *ActivationWorkflow) pendingQueue(ctx context.Context) ([]PendingDoctor, error) {
	doctors, err := w.accounts.Find(ctx, AccountFilter{Role: RoleDoctor, Activated: Bool(false)})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list pending doctors")
	}

	queue := make([]PendingDoctor, 0, len(doctors))
	if len(doctors) == 0 {
		return queue, nil
	}

	ids := make([]string, 0, len(doctors))
	for _, d := range doctors {
		ids = append(ids, d.ID)
	}

	entries, err := w.requests.Find(ctx, ActivationRequestFilter{DoctorIDs: ids})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list activation requests")
	}

	byDoctor := make(map[string]*ActivationRequest, len(entries))
	for _, e := range entries {
		byDoctor[e.DoctorID] = e
	}

	for _, d := range doctors {
		entry, ok := byDoctor[d.ID]
		switch {
		case !ok:
			w.logger.Warn("doctor %s is not activated and has no activation request", d.ID)
			queue = append(queue, pendingDoctorFrom(d, nil))
		case entry.IsPending:
			id := entry.ID
			queue = append(queue, pendingDoctorFrom(d, &id))
		}
	}

	slices.SortStableFunc(queue, func(a, b PendingDoctor) int {
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return strings.Compare(a.DoctorID, b.DoctorID)
	})

	return queue, nil
}

func pendingDoctorFrom(d *Account, requestID *string) PendingDoctor {
	return PendingDoctor{
		RequestID:             requestID,
		DoctorID:              d.ID,
		Email:                 d.Email,
		FullName:              d.FullName(),
		MedicalLicenseNumber:  d.MedicalLicenseNumber,
		Specialization:        d.Specialization,
		HospitalAffiliation:   d.HospitalAffiliation,
		YearsOfExperience:     d.YearsOfExperience,
		RegisteredAt:          d.CreatedAt,
		ActivationRequestDate: cloneTime(d.ActivationRequestDate),
	}
}

// ActivationStatus reports the activation state of a doctor's own account.
func (w *ActivationWorkflow) ActivationStatus(ctx context.Context, doctorID string) (*ActivationStatusView, error) {
	doctor, err := w.accounts.FindByID(ctx, doctorID)
	if err != nil {
		if IsNotFound(err) {
			return nil, withDetails(ErrDoctorNotFound, map[string]any{"doctor_id": doctorID})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load doctor")
	}
	if !doctor.IsDoctor() {
		return nil, withDetails(ErrDoctorNotFound, map[string]any{"doctor_id": doctorID, "reason": "account is not a doctor"})
	}

	view := &ActivationStatusView{
		IsActivated:           doctor.IsActivated,
		ActivationRequestDate: cloneTime(doctor.ActivationRequestDate),
		ActivationDate:        cloneTime(doctor.ActivationDate),
	}

	if doctor.IsActivated {
		view.Status = StatusActivated
		view.State = StateApproved
		view.Message = "Your account is activated and ready to use"
		return view, nil
	}

	request, err := w.requests.FindByDoctorID(ctx, doctorID)
	if err != nil && !IsNotFound(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load activation request")
	}

	view.State = request.State()
	if view.State == StateRejected {
		view.Status = StatusRejected
		view.Message = request.ProcessingNotes
		if view.Message == "" {
			view.Message = w.machine.rejectionMessage
		}
		return view, nil
	}

	view.Status = StatusPendingActivation
	view.Message = "Your account is pending admin approval. You will receive an email once approved."
	return view, nil
}

// RequestsProcessedBy lists the ledger entries resolved by adminID.
func (w *ActivationWorkflow) RequestsProcessedBy(ctx context.Context, adminID string) ([]*ActivationRequest, error) {
	if strings.TrimSpace(adminID) == "" {
		return []*ActivationRequest{}, nil
	}
	entries, err := w.requests.Find(ctx, ActivationRequestFilter{ProcessedBy: adminID, Pending: Bool(false)})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list processed activation requests")
	}
	return entries, nil
}

// ReconcileActivations resolves ledger entries left pending for doctors
// that are already activated, the state a partial activation failure
// leaves behind. Activated doctors whose entry was rejected, which an
// approval racing a rejection can leave behind, are reported as conflicts
// and never rewritten.
func (w *ActivationWorkflow) ReconcileActivations(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{
		Repaired:  []*ActivationRequest{},
		Conflicts: []*ActivationRequest{},
	}

	doctors, err := w.accounts.Find(ctx, AccountFilter{Role: RoleDoctor, Activated: Bool(true)})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list activated doctors")
	}
	if len(doctors) == 0 {
		return report, nil
	}

	byID := make(map[string]*Account, len(doctors))
	ids := make([]string, 0, len(doctors))
	for _, d := range doctors {
		byID[d.ID] = d
		ids = append(ids, d.ID)
	}

	entries, err := w.requests.Find(ctx, ActivationRequestFilter{DoctorIDs: ids})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list activation requests")
	}

	for _, entry := range entries {
		doctor := byID[entry.DoctorID]

		switch entry.State() {
		case StatePending:
			resolved, err := w.repair(ctx, doctor, entry)
			if err != nil {
				if IsAlreadyProcessed(err) {
					continue
				}
				return report, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to reconcile activation request")
			}
			report.Repaired = append(report.Repaired, resolved)

		case StateRejected:
			w.logger.Error(
				"ACTIVATION CONFLICT: doctor %s is activated by %s but request %s was rejected by %s, needs operator review",
				doctor.ID, doctor.ActivatedBy, entry.ID, entry.ProcessedBy,
			)
			w.record(ctx, ActivityEvent{
				EventType: ActivityEventActivationConflict,
				Actor:     ActorRef{Type: "system"},
				AccountID: doctor.ID,
				FromState: StateRejected,
				ToState:   StateRejected,
				Metadata: map[string]any{
					"request_id":   entry.ID,
					"activated_by": doctor.ActivatedBy,
					"rejected_by":  entry.ProcessedBy,
				},
			})
			report.Conflicts = append(report.Conflicts, entry)
		}
	}

	return report, nil
}

func (w *ActivationWorkflow) repair(ctx context.Context, doctor *Account, entry *ActivationRequest) (*ActivationRequest, error) {
	at := w.now().UTC()
	if doctor.ActivationDate != nil {
		at = doctor.ActivationDate.UTC()
	}

	processor := Actor{ID: doctor.ActivatedBy}
	if admin, err := w.accounts.FindByID(ctx, doctor.ActivatedBy); err == nil {
		processor = ActorFromAccount(admin)
	}

	resolved := resolveRequest(entry, StateApproved, processor, ReconciliationNote, at)
	if err := w.persistResolution(ctx, resolved); err != nil {
		return nil, err
	}

	w.record(ctx, ActivityEvent{
		EventType: ActivityEventActivationReconciled,
		Actor:     ActorRef{Type: "system"},
		AccountID: doctor.ID,
		FromState: StatePending,
		ToState:   StateApproved,
		Metadata:  map[string]any{"request_id": entry.ID},
	})
	w.logger.Info("reconciled activation request %s for doctor %s", entry.ID, doctor.ID)
	return resolved, nil
}

func (w *ActivationWorkflow) record(ctx context.Context, event ActivityEvent) {
	recordActivity(ctx, w.activity, w.logger, w.now, event)
}
