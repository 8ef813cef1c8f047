package auth

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

// RenderedNotification is a notification ready for a mail transport.
type RenderedNotification struct {
	Template  NotificationTemplate `json:"template"`
	Recipient string               `json:"recipient"`
	Subject   string               `json:"subject"`
	Body      string               `json:"body"`
}

type notificationTemplate struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

// NotificationRenderer renders notifications with pongo2 templates.
type NotificationRenderer struct {
	templates map[NotificationTemplate]notificationTemplate
	globals   pongo2.Context
}

const doctorRegisteredBody = `Dear {{ admin_name }},

A new doctor has registered on the Health App platform and requires your approval.

Doctor Details:
- Name: {{ doctor_name }}
- Email: {{ doctor_email }}
- Medical License: {{ license }}
- Specialization: {{ specialization }}
- Hospital: {{ hospital|default:"N/A" }}
- Experience: {{ years_of_experience }} years
- Registration Date: {{ registered_at|date:"2006-01-02 15:04" }}

Please review this application in the admin dashboard:
{{ frontend_url }}/admin/doctor-approvals

Best regards,
Health App Team`

const doctorActivatedBody = `Dear Dr. {{ doctor_name }},

Congratulations! Your doctor account on Health App has been successfully activated.

You can now access all doctor features including:
- Patient health monitoring
- Medical consultation tools
- Health analytics dashboard
- Prescription management

Login to your account: {{ frontend_url }}/login

If you have any questions, please don't hesitate to contact our support team.

Best regards,
Health App Team`

const doctorRejectedBody = `Dear Dr. {{ doctor_name }},

Thank you for your interest in joining Health App as a verified doctor.

After careful review, we were unable to approve your doctor account at this time.

Reason: {{ reason }}

If you believe this decision was made in error or if you have additional documentation to support your application, please contact our support team at {{ support_email }}.

Best regards,
Health App Team`

// NewNotificationRenderer compiles the built-in templates. frontendURL is
// used for links, supportEmail in rejection messages.
func NewNotificationRenderer(frontendURL, supportEmail string) (*NotificationRenderer, error) {
	sources := map[NotificationTemplate][2]string{
		TemplateDoctorRegistered: {"New Doctor Registration Pending Approval", doctorRegisteredBody},
		TemplateDoctorActivated:  {"Account Activated - Welcome to Health App", doctorActivatedBody},
		TemplateDoctorRejected:   {"Account Registration Review - Health App", doctorRejectedBody},
	}

	r := &NotificationRenderer{
		templates: make(map[NotificationTemplate]notificationTemplate, len(sources)),
		globals: pongo2.Context{
			"frontend_url":  strings.TrimRight(frontendURL, "/"),
			"support_email": supportEmail,
		},
	}

	for name, src := range sources {
		if err := r.Register(name, src[0], src[1]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces a template.
func (r *NotificationRenderer) Register(name NotificationTemplate, subject, body string) error {
	subjectTpl, err := pongo2.FromString(subject)
	if err != nil {
		return fmt.Errorf("notification %s subject: %w", name, err)
	}
	bodyTpl, err := pongo2.FromString(body)
	if err != nil {
		return fmt.Errorf("notification %s body: %w", name, err)
	}
	r.templates[name] = notificationTemplate{subject: subjectTpl, body: bodyTpl}
	return nil
}

// Render produces subject and body for n.
func (r *NotificationRenderer) Render(n Notification) (RenderedNotification, error) {
	tpl, ok := r.templates[n.Template]
	if !ok {
		return RenderedNotification{}, fmt.Errorf("unknown notification template %q", n.Template)
	}

	ctx := pongo2.Context{}
	ctx.Update(r.globals)
	ctx.Update(pongo2.Context(n.Data))

	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return RenderedNotification{}, fmt.Errorf("render %s subject: %w", n.Template, err)
	}
	body, err := tpl.body.Execute(ctx)
	if err != nil {
		return RenderedNotification{}, fmt.Errorf("render %s body: %w", n.Template, err)
	}

	return RenderedNotification{
		Template:  n.Template,
		Recipient: n.Recipient,
		Subject:   subject,
		Body:      body,
	}, nil
}
