package auth

import (
	"context"
)

// NotificationTemplate names a message the notifier knows how to deliver.
type NotificationTemplate string

const (
	// TemplateDoctorRegistered goes to every admin when a doctor registers
	TemplateDoctorRegistered NotificationTemplate = "doctor.registration.pending"
	// TemplateDoctorActivated goes to the doctor after approval
	TemplateDoctorActivated NotificationTemplate = "doctor.activation.approved"
	// TemplateDoctorRejected goes to the doctor after rejection
	TemplateDoctorRejected NotificationTemplate = "doctor.activation.rejected"
)

// Notification is a message intent. Data feeds the template.
type Notification struct {
	Template  NotificationTemplate `json:"template"`
	Recipient string               `json:"recipient"`
	Data      map[string]any       `json:"data,omitempty"`
}

// IsZero reports an empty intent, nothing to send.
func (n Notification) IsZero() bool {
	return n.Template == "" && n.Recipient == ""
}

// Notifier delivers notifications. Callers in this package log and
// swallow its errors.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	if f == nil {
		return nil
	}
	return f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) error { return nil }

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

// dispatch sends n and absorbs any failure. A decision is final once
// persisted whatever happens here.
func dispatch(ctx context.Context, notifier Notifier, logger Logger, metrics *Metrics, n Notification) {
	if n.IsZero() {
		return
	}
	if err := normalizeNotifier(notifier).Notify(ctx, n); err != nil {
		normalizeLogger(logger).Error("notification %s to %s failed: %v", n.Template, n.Recipient, err)
		metrics.notificationFailed(n.Template)
		return
	}
	metrics.notificationSent(n.Template)
}
