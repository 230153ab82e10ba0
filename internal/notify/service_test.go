package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/healme-core/internal/events"
)

type mockEmailSender struct {
	sent    []EmailMessage
	failOn  string // fail if To matches this
	callErr error
}

func (m *mockEmailSender) Send(ctx context.Context, msg EmailMessage) error {
	if m.callErr != nil {
		return m.callErr
	}
	if m.failOn != "" && msg.To == m.failOn {
		return errors.New("mock email error")
	}
	m.sent = append(m.sent, msg)
	return nil
}

type mockTracker struct {
	seen     map[string]bool
	checkErr error
}

func (m *mockTracker) AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return m.seen[consumer+"/"+eventID], nil
}

func (m *mockTracker) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	key := consumer + "/" + eventID
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func committedEvent() events.AppointmentCommittedV1 {
	return events.AppointmentCommittedV1{
		EventID:        "evt-1",
		RequesterID:    "sub-jane",
		RequesterName:  "Jane",
		RequesterEmail: "jane@example.com",
		ProviderID:     "sub-drx",
		ProviderName:   "Dr. X",
		ProviderEmail:  "drx@example.com",
		Specialty:      "Cardiology",
		Date:           "2025-06-02",
		Slot:           "10:00",
		CommittedAt:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNotifyAppointmentCommitted_EmailsBothParties(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, nil)

	if err := svc.NotifyAppointmentCommitted(context.Background(), committedEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(sender.sent))
	}
	requester := sender.sent[0]
	if requester.To != "jane@example.com" {
		t.Errorf("expected first email to requester, got %s", requester.To)
	}
	if !strings.Contains(requester.Subject, "Monday, June 2 at 10:00 AM") {
		t.Errorf("expected formatted slot in subject, got %q", requester.Subject)
	}
	if !strings.Contains(requester.Body, "Dr. X") || !strings.Contains(requester.HTML, "Cardiology") {
		t.Error("requester email should name the provider and specialty")
	}
	provider := sender.sent[1]
	if provider.To != "drx@example.com" {
		t.Errorf("expected second email to provider, got %s", provider.To)
	}
	if !strings.Contains(provider.Subject, "Jane") {
		t.Errorf("expected requester name in provider subject, got %q", provider.Subject)
	}
}

func TestNotifyAppointmentCommitted_SkipsMissingAddresses(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, nil)
	evt := committedEvent()
	evt.ProviderEmail = ""

	if err := svc.NotifyAppointmentCommitted(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "jane@example.com" {
		t.Fatalf("expected only the requester email, got %+v", sender.sent)
	}
}

func TestNotifyAppointmentCommitted_PartialFailure(t *testing.T) {
	sender := &mockEmailSender{failOn: "drx@example.com"}
	svc := NewService(sender, nil)

	err := svc.NotifyAppointmentCommitted(context.Background(), committedEvent())
	if err == nil {
		t.Fatal("expected error when one email fails")
	}
	if !strings.Contains(err.Error(), "1 notification(s) failed") {
		t.Errorf("unexpected error message: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected the requester email to still be sent, got %d", len(sender.sent))
	}
}

func TestNotifyAppointmentCommitted_NoSender(t *testing.T) {
	svc := NewService(nil, nil)
	if err := svc.NotifyAppointmentCommitted(context.Background(), committedEvent()); err != nil {
		t.Errorf("expected nil error without a sender, got %v", err)
	}
}

func TestNotifyAppointmentCommitted_EscapesHTML(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, nil)
	evt := committedEvent()
	evt.RequesterName = "<b>Jane</b>"

	if err := svc.NotifyAppointmentCommitted(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(sender.sent[1].HTML, "<b>Jane</b>") {
		t.Error("requester name should be escaped in HTML")
	}
}

func TestNotifyPrescriptionIssued(t *testing.T) {
	sender := &mockEmailSender{}
	svc := NewService(sender, nil)
	evt := events.PrescriptionIssuedV1{
		EventID:        "evt-2",
		PrescriptionID: "rx-1",
		RequesterID:    "sub-jane",
		RequesterName:  "Jane",
		RequesterEmail: "jane@example.com",
		ProviderName:   "Dr. X",
		IssuedAt:       time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
	}

	if err := svc.NotifyPrescriptionIssued(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	if sender.sent[0].Subject != "You have a new prescription" {
		t.Errorf("unexpected subject %q", sender.sent[0].Subject)
	}

	evt.RequesterEmail = ""
	sender.sent = nil
	if err := svc.NotifyPrescriptionIssued(context.Background(), evt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no email without an address, got %d", len(sender.sent))
	}
}

func TestFormatSlot_FallsBackToRawValues(t *testing.T) {
	if got := formatSlot("someday", "noon"); got != "someday noon" {
		t.Errorf("expected raw fallback, got %q", got)
	}
}

func outboxEntry(t *testing.T, eventType string, payload any) events.OutboxEntry {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return events.OutboxEntry{ID: uuid.New(), AggregateID: "sub-jane", Type: eventType, Payload: data}
}

func TestDispatcher_SendsOnceAndPublishes(t *testing.T) {
	sender := &mockEmailSender{}
	tracker := &mockTracker{}
	bus := events.NewMemoryBus()
	var published []string
	if _, err := bus.Subscribe(events.SubjectAppointmentCommitted, func(msg *events.Message) {
		published = append(published, msg.Subject)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	d := NewDispatcher(NewService(sender, nil), bus, tracker, nil)
	entry := outboxEntry(t, events.TypeAppointmentCommitted, committedEvent())

	if err := d.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Handle(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error on redelivery: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Errorf("expected emails sent once (2 recipients), got %d", len(sender.sent))
	}
	if !tracker.seen["email/evt-1"] {
		t.Error("expected event to be marked processed for the email consumer")
	}
	if len(published) != 2 {
		t.Errorf("expected bus publish on every delivery, got %d", len(published))
	}
}

func TestDispatcher_SendFailureLeavesEventPending(t *testing.T) {
	sender := &mockEmailSender{callErr: errors.New("smtp down")}
	tracker := &mockTracker{}
	d := NewDispatcher(NewService(sender, nil), nil, tracker, nil)

	err := d.Handle(context.Background(), outboxEntry(t, events.TypeAppointmentCommitted, committedEvent()))
	if err == nil {
		t.Fatal("expected error when email fails")
	}
	if tracker.seen["email/evt-1"] {
		t.Error("failed delivery must not be marked processed")
	}
}

func TestDispatcher_TrackerError(t *testing.T) {
	sender := &mockEmailSender{}
	d := NewDispatcher(NewService(sender, nil), nil, &mockTracker{checkErr: errors.New("db down")}, nil)

	if err := d.Handle(context.Background(), outboxEntry(t, events.TypeAppointmentCommitted, committedEvent())); err == nil {
		t.Fatal("expected tracker error to propagate")
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no email when the tracker fails, got %d", len(sender.sent))
	}
}

func TestDispatcher_PrescriptionAndUnknownTypes(t *testing.T) {
	sender := &mockEmailSender{}
	d := NewDispatcher(NewService(sender, nil), nil, nil, nil)

	rx := events.PrescriptionIssuedV1{EventID: "evt-rx", RequesterEmail: "jane@example.com", RequesterName: "Jane", ProviderName: "Dr. X"}
	if err := d.Handle(context.Background(), outboxEntry(t, events.TypePrescriptionIssued, rx)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Errorf("expected 1 prescription email, got %d", len(sender.sent))
	}

	if err := d.Handle(context.Background(), outboxEntry(t, "lead.created.v1", map[string]string{})); err != nil {
		t.Errorf("unknown types should be acknowledged, got %v", err)
	}

	bad := events.OutboxEntry{ID: uuid.New(), Type: events.TypePrescriptionIssued, Payload: json.RawMessage(`{`)}
	if err := d.Handle(context.Background(), bad); err == nil {
		t.Error("expected decode error for malformed payload")
	}
}
