// Package prescriptions lets a provider issue a prescription to a requester
// after a session and lets the requester list what they received.
package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/healme-core/internal/compliance"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("healme.internal.prescriptions")

const (
	// Collection holds prescription records keyed by a generated id.
	Collection = "prescriptions"
	// NotificationsCollection holds in-app notifications for requesters.
	NotificationsCollection = "notifications"
)

var (
	// ErrRequesterNotFound indicates no requester carries the given name.
	ErrRequesterNotFound = errors.New("prescriptions: requester not found")
	// ErrProviderNotFound indicates the issuing provider has no profile.
	ErrProviderNotFound = errors.New("prescriptions: provider not found")
	// ErrInvalidPrescription indicates missing required fields.
	ErrInvalidPrescription = errors.New("prescriptions: invalid prescription")
)

// Prescription is the stored record.
type Prescription struct {
	ID            string    `dynamodbav:"id" json:"id"`
	RequesterID   string    `dynamodbav:"requesterId" json:"requesterId"`
	RequesterName string    `dynamodbav:"requesterName" json:"requesterName"`
	ProviderID    string    `dynamodbav:"providerId" json:"providerId"`
	ProviderName  string    `dynamodbav:"providerName" json:"providerName"`
	Date          string    `dynamodbav:"date" json:"date"`
	Slot          string    `dynamodbav:"slot" json:"slot"`
	Diagnosis     string    `dynamodbav:"diagnosis" json:"diagnosis"`
	Prescription  string    `dynamodbav:"prescription" json:"prescription"`
	CreatedAt     time.Time `dynamodbav:"createdAt" json:"createdAt"`
}

// Notification is an in-app message for a requester.
type Notification struct {
	ID          string    `dynamodbav:"id" json:"id"`
	RequesterID string    `dynamodbav:"requesterId" json:"requesterId"`
	Message     string    `dynamodbav:"message" json:"message"`
	CreatedAt   time.Time `dynamodbav:"createdAt" json:"createdAt"`
	Read        bool      `dynamodbav:"read" json:"read"`
}

// IssueRequest is what the provider fills in after a session.
type IssueRequest struct {
	RequesterName string `json:"requesterName"`
	Date          string `json:"date"`
	Slot          string `json:"slot"`
	Diagnosis     string `json:"diagnosis"`
	Prescription  string `json:"prescription"`
}

func (r IssueRequest) validate() error {
	var missing []string
	if strings.TrimSpace(r.RequesterName) == "" {
		missing = append(missing, "requesterName")
	}
	if strings.TrimSpace(r.Prescription) == "" {
		missing = append(missing, "prescription")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidPrescription, strings.Join(missing, ", "))
	}
	return nil
}

// Profiles resolves the parties of a prescription.
type Profiles interface {
	GetProvider(ctx context.Context, id string) (*profiles.Provider, error)
	FindRequesterByName(ctx context.Context, name string) (*profiles.Requester, error)
}

// Outbox enqueues events for reliable delivery.
type Outbox interface {
	Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error)
}

// Auditor records compliance events.
type Auditor interface {
	Log(ctx context.Context, eventType compliance.AuditEventType, subjectID, actorID, resourceID string, details any) error
}

// Service issues and lists prescriptions.
type Service struct {
	store    docstore.Store
	profiles Profiles
	outbox   Outbox
	audit    Auditor
	logger   *logging.Logger
	now      func() time.Time
	newID    func() string
}

// Option customizes a Service.
type Option func(*Service)

// WithOutbox enqueues prescription.issued events.
func WithOutbox(o Outbox) Option {
	return func(s *Service) { s.outbox = o }
}

// WithAuditor records issued prescriptions.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.audit = a }
}

// NewService wires the prescription service.
func NewService(store docstore.Store, reader Profiles, logger *logging.Logger, opts ...Option) *Service {
	if store == nil {
		panic("prescriptions: store cannot be nil")
	}
	if reader == nil {
		panic("prescriptions: profiles cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		store:    store,
		profiles: reader,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Issue writes a prescription from providerID to the first requester named
// req.RequesterName, then notifies the requester.
func (s *Service) Issue(ctx context.Context, providerID string, req IssueRequest) (*Prescription, error) {
	ctx, span := tracer.Start(ctx, "prescriptions.issue")
	defer span.End()
	span.SetAttributes(attribute.String("healme.provider_id", providerID))

	if err := req.validate(); err != nil {
		return nil, err
	}
	provider, err := s.profiles.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, profiles.ErrProviderNotFound) {
			return nil, ErrProviderNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("prescriptions: read provider: %w", err)
	}
	requester, err := s.profiles.FindRequesterByName(ctx, req.RequesterName)
	if err != nil {
		if errors.Is(err, profiles.ErrRequesterNotFound) {
			return nil, ErrRequesterNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("prescriptions: find requester: %w", err)
	}

	now := s.now()
	rx := &Prescription{
		ID:            s.newID(),
		RequesterID:   requester.ID,
		RequesterName: requester.Name,
		ProviderID:    provider.ID,
		ProviderName:  provider.Name,
		Date:          strings.TrimSpace(req.Date),
		Slot:          strings.TrimSpace(req.Slot),
		Diagnosis:     strings.TrimSpace(req.Diagnosis),
		Prescription:  strings.TrimSpace(req.Prescription),
		CreatedAt:     now,
	}
	span.SetAttributes(attribute.String("healme.prescription_id", rx.ID))
	if err := s.store.Create(ctx, Collection, rx.ID, rx); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("prescriptions: write: %w", err)
	}

	note := Notification{
		ID:          s.newID(),
		RequesterID: requester.ID,
		Message:     fmt.Sprintf("%s issued you a new prescription.", provider.Name),
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, NotificationsCollection, note.ID, note); err != nil {
		s.logger.Warn("prescriptions: notification write failed", "error", err, "prescription_id", rx.ID, "requester_id", requester.ID)
	}

	if s.outbox != nil {
		event := events.PrescriptionIssuedV1{
			EventID:        uuid.NewString(),
			PrescriptionID: rx.ID,
			RequesterID:    requester.ID,
			RequesterName:  requester.Name,
			RequesterEmail: requester.Email,
			ProviderID:     provider.ID,
			ProviderName:   provider.Name,
			Date:           rx.Date,
			Slot:           rx.Slot,
			IssuedAt:       now,
		}
		if _, err := s.outbox.Insert(ctx, requester.ID, events.TypePrescriptionIssued, event); err != nil {
			s.logger.Error("prescriptions: failed to enqueue event", "error", err, "prescription_id", rx.ID)
		}
	}
	if s.audit != nil {
		details := map[string]string{"date": rx.Date, "slot": rx.Slot}
		if err := s.audit.Log(ctx, compliance.EventPrescriptionIssued, requester.ID, provider.ID, rx.ID, details); err != nil {
			s.logger.Error("prescriptions: audit log failed", "error", err, "prescription_id", rx.ID)
		}
	}

	s.logger.Info("prescription issued", "prescription_id", rx.ID, "provider_id", provider.ID, "requester_id", requester.ID)
	return rx, nil
}

// ForRequester lists a requester's prescriptions, newest first.
func (s *Service) ForRequester(ctx context.Context, requesterID string) ([]Prescription, error) {
	var out []Prescription
	if err := s.store.Query(ctx, Collection, []docstore.Filter{docstore.Eq("requesterId", requesterID)}, &out); err != nil {
		return nil, fmt.Errorf("prescriptions: list: %w", err)
	}
	sortNewestFirst(out, func(p Prescription) time.Time { return p.CreatedAt })
	return out, nil
}

// Notifications lists a requester's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, requesterID string) ([]Notification, error) {
	var out []Notification
	if err := s.store.Query(ctx, NotificationsCollection, []docstore.Filter{docstore.Eq("requesterId", requesterID)}, &out); err != nil {
		return nil, fmt.Errorf("prescriptions: list notifications: %w", err)
	}
	sortNewestFirst(out, func(n Notification) time.Time { return n.CreatedAt })
	return out, nil
}

func sortNewestFirst[T any](items []T, at func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return at(items[i]).After(at(items[j]))
	})
}
