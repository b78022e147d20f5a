package notification

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRender(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render(TemplateAppointmentBooked, map[string]string{
		"patient_name": "Kiss Anna",
		"treatment":    "implant",
		"date":         "2026-09-10",
		"time":         "09:30",
		"provider":     "Dr. Nagy",
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(subject, "Kiss Anna") {
		t.Errorf("subject not rendered: %q", subject)
	}
	if !strings.Contains(body, "Dr. Nagy") || strings.Contains(body, "{{") {
		t.Errorf("body not fully rendered: %q", body)
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	if _, _, err := e.Render("no-such-template", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestRender_MissingDataLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(TemplateAppointmentBooked, map[string]string{"patient_name": "X"})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if !strings.Contains(body, "{{date}}") {
		t.Errorf("missing keys should stay as placeholders, got %q", body)
	}
}

func TestDispatch_EmailChannel(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	d := NewLoggingDispatcher(email, sms, NewTemplateEngine(), zerolog.Nop())

	d.Dispatch(context.Background(), TemplateAppointmentApproved, "anna@example.com",
		map[string]string{"patient_name": "Anna", "date": "2026-09-10", "provider": "Dr. Nagy"})

	if len(email.Calls()) != 1 {
		t.Fatalf("expected 1 email, got %d", len(email.Calls()))
	}
	if len(sms.Calls()) != 0 {
		t.Errorf("expected no SMS, got %d", len(sms.Calls()))
	}
}

func TestDispatch_SMSChannel(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	d := NewLoggingDispatcher(email, sms, NewTemplateEngine(), zerolog.Nop())

	d.Dispatch(context.Background(), TemplateHoldExpiring, "+36301234567",
		map[string]string{"patient_name": "Anna", "date": "2026-09-10", "expires_at": "2026-09-05"})

	if len(sms.Calls()) != 1 {
		t.Fatalf("expected 1 SMS, got %d", len(sms.Calls()))
	}
}

func TestDispatch_FailureDoesNotPanic(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	d := NewLoggingDispatcher(email, &MockSMSSender{}, NewTemplateEngine(), zerolog.Nop())

	// Must not panic or propagate the error.
	d.Dispatch(context.Background(), TemplateAppointmentBooked, "anna@example.com", nil)

	if len(email.Calls()) != 1 {
		t.Fatalf("expected the send to have been attempted")
	}
}

func TestDispatch_CancelledCallerContext(t *testing.T) {
	email := &MockEmailSender{}
	d := NewLoggingDispatcher(email, &MockSMSSender{}, NewTemplateEngine(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, TemplateAppointmentBooked, "anna@example.com", nil)

	if len(email.Calls()) != 1 {
		t.Error("delivery should run on a detached context")
	}
}
