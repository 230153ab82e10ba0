package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// ProfileReader loads the profiles a booking touches.
type ProfileReader interface {
	GetRequester(ctx context.Context, id string) (*profiles.Requester, error)
	GetProvider(ctx context.Context, id string) (*profiles.Provider, error)
}

// Outbox enqueues events for reliable delivery.
type Outbox interface {
	Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error)
}

// BookingRequest asks for any provider of a specialty at (date, slot).
type BookingRequest struct {
	Specialty string `json:"specialty"`
	Date      string `json:"date"`
	Slot      string `json:"slot"`
}

// Service runs the booking flows on top of Matcher and Writer.
type Service struct {
	profiles ProfileReader
	matcher  *Matcher
	writer   *Writer
	tokens   *TokenIssuer
	outbox   Outbox
	bus      events.Bus
	logger   *logging.Logger
	now      func() time.Time
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithTokenIssuer enables QR booking tokens.
func WithTokenIssuer(t *TokenIssuer) ServiceOption {
	return func(s *Service) {
		s.tokens = t
	}
}

// WithOutbox enqueues appointment.committed events.
func WithOutbox(o Outbox) ServiceOption {
	return func(s *Service) {
		s.outbox = o
	}
}

// WithBus pushes committed appointments to connected clients.
func WithBus(b events.Bus) ServiceOption {
	return func(s *Service) {
		s.bus = b
	}
}

// NewService wires the booking service.
func NewService(reader ProfileReader, matcher *Matcher, writer *Writer, logger *logging.Logger, opts ...ServiceOption) *Service {
	if reader == nil || matcher == nil || writer == nil {
		panic("scheduling: profiles, matcher and writer are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		profiles: reader,
		matcher:  matcher,
		writer:   writer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// FindAvailable exposes the matcher.
func (s *Service) FindAvailable(ctx context.Context, specialty, date, slot string) (Match, error) {
	return s.matcher.FindAvailable(ctx, specialty, date, slot)
}

// Book matches a provider and commits the appointment for a requester whose
// intake is complete.
func (s *Service) Book(ctx context.Context, requesterID string, req BookingRequest) (Result, error) {
	requester, err := s.completeRequester(ctx, requesterID)
	if err != nil {
		return Result{}, err
	}
	match, err := s.matcher.FindAvailable(ctx, req.Specialty, req.Date, req.Slot)
	if err != nil {
		return Result{}, err
	}
	result, err := s.writer.Commit(ctx, requester.ID, requester.Name, match.Commitment(req.Date, req.Slot))
	if err != nil {
		return Result{}, err
	}
	s.announce(ctx, result)
	return result, nil
}

// Confirm commits the booking pinned by a provider-issued token. There is no
// matching step; the token names the provider.
func (s *Service) Confirm(ctx context.Context, requesterID, token string) (Result, error) {
	if s.tokens == nil {
		return Result{}, ErrTokensDisabled
	}
	c, err := s.tokens.Verify(token)
	if err != nil {
		return Result{}, err
	}
	requester, err := s.completeRequester(ctx, requesterID)
	if err != nil {
		return Result{}, err
	}
	result, err := s.writer.Commit(ctx, requester.ID, requester.Name, c)
	if err != nil {
		return Result{}, err
	}
	s.announce(ctx, result)
	return result, nil
}

// IssueToken signs a booking token for the provider's own (date, slot).
func (s *Service) IssueToken(ctx context.Context, providerID, date, slot string) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, ErrTokensDisabled
	}
	provider, err := s.profiles.GetProvider(ctx, providerID)
	if err != nil {
		if errors.Is(err, profiles.ErrProviderNotFound) {
			return "", time.Time{}, ErrProviderNotFound
		}
		return "", time.Time{}, fmt.Errorf("scheduling: issue token: %w", err)
	}
	return s.tokens.Issue(Commitment{
		ProviderID:   provider.ID,
		ProviderName: provider.Name,
		Specialty:    provider.Specialty,
		Date:         date,
		Slot:         slot,
	})
}

func (s *Service) completeRequester(ctx context.Context, requesterID string) (*profiles.Requester, error) {
	if strings.TrimSpace(requesterID) == "" {
		return nil, ErrRequesterNotFound
	}
	requester, err := s.profiles.GetRequester(ctx, requesterID)
	if err != nil {
		if errors.Is(err, profiles.ErrRequesterNotFound) {
			return nil, ErrRequesterNotFound
		}
		return nil, fmt.Errorf("scheduling: read requester: %w", err)
	}
	if !requester.IntakeComplete() {
		return nil, ErrRegistrationIncomplete
	}
	return requester, nil
}

// announce enqueues and pushes a committed appointment. Failures are logged;
// the booking itself already succeeded.
func (s *Service) announce(ctx context.Context, result Result) {
	if result.Replayed {
		return
	}
	event := events.AppointmentCommittedV1{
		EventID:        uuid.NewString(),
		RequesterID:    result.RequesterID,
		RequesterName:  result.RequesterName,
		RequesterEmail: result.RequesterEmail,
		ProviderID:     result.Commitment.ProviderID,
		ProviderName:   result.Commitment.ProviderName,
		ProviderEmail:  result.ProviderEmail,
		Specialty:      result.Commitment.Specialty,
		Date:           result.Commitment.Date,
		Slot:           result.Commitment.Slot,
		CommittedAt:    s.now(),
	}
	if s.outbox != nil {
		if _, err := s.outbox.Insert(ctx, result.RequesterID, events.TypeAppointmentCommitted, event); err != nil {
			s.logger.Error("failed to enqueue appointment event", "error", err, "requester_id", result.RequesterID)
		}
	}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, events.SubjectAppointmentCommitted, event); err != nil {
			s.logger.Warn("failed to publish appointment event", "error", err, "requester_id", result.RequesterID)
		}
	}
}
