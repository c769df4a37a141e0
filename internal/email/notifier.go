package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/lexiqai/voice-intake/internal/config"
	"github.com/lexiqai/voice-intake/internal/intake"
	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/rs/zerolog"
)

var (
	// ErrNotConfigured means no email provider key was supplied.
	ErrNotConfigured = errors.New("email provider not configured")
	// ErrNoRecipients means there is nobody to notify.
	ErrNoRecipients = errors.New("no booking recipients configured")
)

const confirmationTemplate = `<h2>Voice Intake - New Appointment Reserved</h2>
<p><strong>Patient:</strong> {{str .Record.PatientName}}<br/>
<strong>DOB:</strong> {{str .Record.DateOfBirth}}<br/>
<strong>Phone:</strong> {{str .Record.Phone}}<br/>
<strong>Email:</strong> {{str .Record.Email}}<br/>
<strong>Insurance:</strong> {{str .Record.InsurancePayerName}} (ID: {{str .Record.InsurancePayerID}})<br/>
<strong>Referral:</strong> {{yesno .Record.HasReferral}}<br/>
<strong>Referring Physician:</strong> {{str .Record.ReferringPhysician}}<br/>
<strong>Chief Complaint:</strong> {{str .Record.ChiefComplaint}}<br/>
<strong>Address:</strong> {{str .Record.Address}}<br/>
<strong>Address Valid:</strong> {{yesno .Record.AddressIsValid}}</p>
<p><strong>Doctor:</strong> {{.Appointment.Provider}}<br/>
<strong>Specialty:</strong> {{or .Appointment.Specialty "n/a"}}<br/>
<strong>Start:</strong> {{.Appointment.Start}}<br/>
<strong>End:</strong> {{.Appointment.End}}</p>
`

var confirmation = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"str": func(s *string) string {
		if s == nil || *s == "" {
			return "n/a"
		}
		return *s
	},
	"yesno": func(b *bool) string {
		switch {
		case b == nil:
			return "n/a"
		case *b:
			return "yes"
		default:
			return "no"
		}
	},
}).Parse(confirmationTemplate))

// Notifier sends booking confirmations to the clinic.
type Notifier struct {
	provider   Provider
	recipients []string
	logger     zerolog.Logger
}

// NewNotifier wires a SendGrid-backed notifier from config. Without an API
// key the notifier still exists but every send reports ErrNotConfigured.
func NewNotifier(cfg *config.Config) *Notifier {
	var provider Provider
	if cfg.SendGridAPIKey != "" {
		provider = NewSendGridProvider(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	}
	return NewNotifierWithProvider(provider, cfg.BookingRecipients)
}

// NewNotifierWithProvider creates a notifier over an arbitrary provider.
func NewNotifierWithProvider(provider Provider, recipients []string) *Notifier {
	return &Notifier{
		provider:   provider,
		recipients: recipients,
		logger:     observability.WithComponent("email"),
	}
}

// SendConfirmation makes exactly one delivery attempt.
func (n *Notifier) SendConfirmation(ctx context.Context, appt intake.Appointment, record intake.Snapshot) error {
	if n.provider == nil {
		return ErrNotConfigured
	}
	if len(n.recipients) == 0 {
		return ErrNoRecipients
	}

	subject, body, err := Render(appt, record)
	if err != nil {
		return err
	}

	if err := n.provider.SendBatch(ctx, n.recipients, subject, body); err != nil {
		observability.RecordEmail(false)
		return err
	}
	observability.RecordEmail(true)
	n.logger.Info().
		Str("provider", appt.Provider).
		Str("start", appt.Start).
		Int("recipients", len(n.recipients)).
		Msg("Confirmation email sent")
	return nil
}

// Render builds the subject and HTML body for a booking.
func Render(appt intake.Appointment, record intake.Snapshot) (string, string, error) {
	var buf bytes.Buffer
	data := struct {
		Appointment intake.Appointment
		Record      intake.Snapshot
	}{appt, record}
	if err := confirmation.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("failed to render confirmation: %w", err)
	}
	subject := fmt.Sprintf("New Appointment - %s @ %s", appt.Provider, appt.Start)
	return subject, buf.String(), nil
}

// Check reports whether confirmations can be delivered.
func (n *Notifier) Check(ctx context.Context) (bool, error) {
	if n.provider == nil {
		return false, ErrNotConfigured
	}
	if len(n.recipients) == 0 {
		return false, ErrNoRecipients
	}
	return true, nil
}
