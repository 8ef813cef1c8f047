package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ProcessActivationMessage is an admin decision on a doctor's request.
type ProcessActivationMessage struct {
	DoctorID string `json:"doctor_id"`
	Action   string `json:"action"`
	Notes    string `json:"notes"`
}

func (e ProcessActivationMessage) Type() string { return "doctor.activation.process" }

// ProcessActivationHandler authorizes the caller found in the context and
// hands the decision to the workflow.
type ProcessActivationHandler struct {
	workflow *ActivationWorkflow
	gate     *Gate
	timeout  time.Duration
}

// NewProcessActivationHandler wires the handler. A nil gate uses NewGate().
func NewProcessActivationHandler(workflow *ActivationWorkflow, gate *Gate) *ProcessActivationHandler {
	if gate == nil {
		gate = NewGate()
	}
	return &ProcessActivationHandler{
		workflow: workflow,
		gate:     gate,
		timeout:  10 * time.Second,
	}
}

func (h *ProcessActivationHandler) Execute(ctx context.Context, event ProcessActivationMessage) error {
	_, err := h.Handle(ctx, event)
	return err
}

// Handle runs the decision and returns the resulting records.
func (h *ProcessActivationHandler) Handle(ctx context.Context, event ProcessActivationMessage) (*ActivationResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during activation processing",
		)
	default:
	}

	if err := h.gate.AuthorizeContext(ctx, PolicyAdmin); err != nil {
		return nil, err
	}
	admin, _ := ActorFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	return h.workflow.ProcessActivationRequest(ctx, event.Action, event.DoctorID, event.Notes, admin)
}
