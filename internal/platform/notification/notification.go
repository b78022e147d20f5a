// Package notification delivers scheduling notifications over Email/SMS with
// template rendering. Delivery is fire-and-forget: failures are logged and
// never propagated to the scheduling flow that triggered them.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// NotificationType represents the channel used to deliver a notification.
type NotificationType string

const (
	TypeEmail NotificationType = "email"
	TypeSMS   NotificationType = "sms"
)

// Template IDs used by the scheduling flows.
const (
	TemplateAppointmentBooked   = "appointment-booked"
	TemplateAppointmentApproved = "appointment-approved"
	TemplateAppointmentRejected = "appointment-rejected"
	TemplateHoldExpiring        = "hold-expiring"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Name    string
	Subject string
	Body    string
	Type    NotificationType
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateAppointmentBooked,
			Name:    "Appointment Booked",
			Subject: "Appointment confirmed for {{patient_name}}",
			Body:    "Dear {{patient_name}}, your {{treatment}} appointment is confirmed for {{date}} at {{time}} with {{provider}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TemplateAppointmentApproved,
			Name:    "Appointment Approved",
			Subject: "Appointment approved",
			Body:    "Dear {{patient_name}}, your appointment on {{date}} has been approved by {{provider}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TemplateAppointmentRejected,
			Name:    "Appointment Rejected",
			Subject: "Appointment needs rescheduling",
			Body:    "Dear {{patient_name}}, your appointment on {{date}} could not be confirmed. Suggested alternatives: {{alternatives}}.",
			Type:    TypeEmail,
		},
		{
			ID:      TemplateHoldExpiring,
			Name:    "Hold Expiring",
			Subject: "Please confirm your appointment",
			Body:    "Dear {{patient_name}}, the hold on your {{date}} appointment expires on {{expires_at}}. Please confirm to keep the slot.",
			Type:    TypeSMS,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

func (e *TemplateEngine) channel(templateID string) NotificationType {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, ok := e.templates[templateID]; ok {
		return t.Type
	}
	return TypeEmail
}

// Dispatcher sends scheduling notifications. Implementations must never let a
// delivery failure affect the caller.
type Dispatcher interface {
	Dispatch(ctx context.Context, templateID, recipient string, data map[string]string)
}

// LoggingDispatcher renders templates and sends over the configured channels,
// logging failures through zerolog.
type LoggingDispatcher struct {
	email     EmailSender
	sms       SMSSender
	templates *TemplateEngine
	logger    zerolog.Logger
	timeout   time.Duration
}

func NewLoggingDispatcher(email EmailSender, sms SMSSender, tpl *TemplateEngine, logger zerolog.Logger) *LoggingDispatcher {
	return &LoggingDispatcher{
		email:     email,
		sms:       sms,
		templates: tpl,
		logger:    logger,
		timeout:   10 * time.Second,
	}
}

// Dispatch renders and sends the notification. The send runs against a detached
// context with its own timeout so an already-cancelled request context does not
// suppress delivery.
func (d *LoggingDispatcher) Dispatch(_ context.Context, templateID, recipient string, data map[string]string) {
	subject, body, err := d.templates.Render(templateID, data)
	if err != nil {
		d.logger.Error().Err(err).
			Str("template_id", templateID).
			Str("recipient", recipient).
			Msg("notification render failed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var sendErr error
	switch d.templates.channel(templateID) {
	case TypeSMS:
		sendErr = d.sms.SendSMS(ctx, recipient, body)
	default:
		sendErr = d.email.SendEmail(ctx, recipient, subject, body)
	}

	if sendErr != nil {
		d.logger.Error().Err(sendErr).
			Str("template_id", templateID).
			Str("recipient", recipient).
			Msg("notification delivery failed")
		return
	}

	d.logger.Info().
		Str("template_id", templateID).
		Str("recipient", recipient).
		Msg("notification sent")
}

// NopDispatcher discards all notifications. Used in tests and the CLI.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, string, string, map[string]string) {}

// LogEmailSender logs instead of delivering. The default sender until a real
// email provider is wired.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Info().Str("to", to).Str("subject", subject).Msg("email (log only)")
	return nil
}

// LogSMSSender logs instead of delivering.
type LogSMSSender struct {
	Logger zerolog.Logger
}

func (s *LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("to", to).Str("body", body).Msg("sms (log only)")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}
