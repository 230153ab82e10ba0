package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/pkg/logging"
)

const (
	dateLayout    = "2006-01-02"
	slotLayout    = "15:04"
	displayLayout = "Monday, January 2 at 3:04 PM"
)

// Service formats and sends requester and provider emails.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

// NewService creates a notification service. A nil sender disables email.
func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// NotifyAppointmentCommitted emails both parties about a new booking.
// Recipients without an email address are skipped.
func (s *Service) NotifyAppointmentCommitted(ctx context.Context, evt events.AppointmentCommittedV1) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping appointment emails")
		return nil
	}
	when := formatSlot(evt.Date, evt.Slot)

	var msgs []EmailMessage
	if evt.RequesterEmail != "" {
		body := fmt.Sprintf(`Hi %s,

Your %s appointment with %s is confirmed.

When: %s

Open the HealMe app a few minutes early to join the video session.

- HealMe`, evt.RequesterName, evt.Specialty, evt.ProviderName, when)
		msgs = append(msgs, EmailMessage{
			To:       evt.RequesterEmail,
			ToName:   evt.RequesterName,
			Subject:  fmt.Sprintf("Appointment confirmed - %s", when),
			Body:     body,
			Category: CategoryAppointment,
			EventID:  evt.EventID,
			HTML: appointmentHTML("Appointment confirmed", [][2]string{
				{"Provider", evt.ProviderName},
				{"Specialty", evt.Specialty},
				{"When", when},
			}),
		})
	}
	if evt.ProviderEmail != "" {
		body := fmt.Sprintf(`%s booked a %s appointment with you.

When: %s

- HealMe`, evt.RequesterName, evt.Specialty, when)
		msgs = append(msgs, EmailMessage{
			To:       evt.ProviderEmail,
			ToName:   evt.ProviderName,
			Subject:  fmt.Sprintf("New appointment - %s", evt.RequesterName),
			Body:     body,
			Category: CategoryAppointment,
			EventID:  evt.EventID,
			HTML: appointmentHTML("New appointment", [][2]string{
				{"Patient", evt.RequesterName},
				{"Specialty", evt.Specialty},
				{"When", when},
			}),
		})
	}
	return s.sendAll(ctx, msgs, "requester_id", evt.RequesterID)
}

// NotifyPrescriptionIssued tells the requester a prescription is waiting in
// the app. The prescription text itself is never emailed.
func (s *Service) NotifyPrescriptionIssued(ctx context.Context, evt events.PrescriptionIssuedV1) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping prescription email")
		return nil
	}
	if evt.RequesterEmail == "" {
		s.logger.Debug("notify: requester has no email", "requester_id", evt.RequesterID)
		return nil
	}
	body := fmt.Sprintf(`Hi %s,

%s issued a new prescription for you. Open the HealMe app to view it.

- HealMe`, evt.RequesterName, evt.ProviderName)
	msg := EmailMessage{
		To:       evt.RequesterEmail,
		ToName:   evt.RequesterName,
		Subject:  "You have a new prescription",
		Body:     body,
		Category: CategoryPrescription,
		EventID:  evt.EventID,
		HTML: appointmentHTML("New prescription", [][2]string{
			{"Provider", evt.ProviderName},
			{"Issued", evt.IssuedAt.Format(displayLayout)},
		}),
	}
	return s.sendAll(ctx, []EmailMessage{msg}, "requester_id", evt.RequesterID)
}

func (s *Service) sendAll(ctx context.Context, msgs []EmailMessage, logArgs ...any) error {
	failed := 0
	for _, msg := range msgs {
		if err := s.email.Send(ctx, msg); err != nil {
			s.logger.Error("notify: failed to send email", append([]any{"error", err, "to", maskAddress(msg.To)}, logArgs...)...)
			failed++
			continue
		}
		s.logger.Info("notify: email sent", append([]any{"to", maskAddress(msg.To), "subject", msg.Subject}, logArgs...)...)
	}
	if failed > 0 {
		return fmt.Errorf("notify: %d notification(s) failed", failed)
	}
	return nil
}

// formatSlot renders a stored date and slot, falling back to the raw values.
func formatSlot(date, slot string) string {
	t, err := time.Parse(dateLayout+" "+slotLayout, date+" "+slot)
	if err != nil {
		return strings.TrimSpace(date + " " + slot)
	}
	return t.Format(displayLayout)
}

func appointmentHTML(title string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, `<h2 style="color: #0ea5e9;">%s</h2>`, html.EscapeString(title))
	b.WriteString(`<table style="border-collapse: collapse; margin: 20px 0;">`)
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		fmt.Fprintf(&b, `<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			html.EscapeString(row[0]), html.EscapeString(row[1]))
	}
	b.WriteString(`</table><p style="color: #6b7280; font-size: 12px; margin-top: 20px;">- HealMe</p></div>`)
	return b.String()
}
