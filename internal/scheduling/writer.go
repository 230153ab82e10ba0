package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/healme-core/internal/compliance"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var writerTracer = otel.Tracer("healme.internal.scheduling.writer")

// Auditor records compliance events.
type Auditor interface {
	Log(ctx context.Context, eventType compliance.AuditEventType, subjectID, actorID, resourceID string, details any) error
}

// Result describes a committed booking.
type Result struct {
	Commitment     Commitment `json:"commitment"`
	RequesterID    string     `json:"requesterId"`
	RequesterName  string     `json:"requesterName"`
	RequesterEmail string     `json:"-"`
	ProviderEmail  string     `json:"-"`
	// Replayed is set when both copies already existed for this requester.
	Replayed bool `json:"replayed"`
}

// Writer commits a booking to the requester and provider profiles. The two
// documents cannot be written atomically, so the provider-side write is
// followed by a compensating removal of the requester-side entry when it
// fails.
type Writer struct {
	store   docstore.Store
	audit   Auditor
	metrics *metrics.SchedulingMetrics
	logger  *logging.Logger
}

// WriterOption customizes a Writer.
type WriterOption func(*Writer)

// WithAuditor records committed and orphaned bookings.
func WithAuditor(a Auditor) WriterOption {
	return func(w *Writer) {
		w.audit = a
	}
}

// WithWriterMetrics records booking and compensation counters.
func WithWriterMetrics(m *metrics.SchedulingMetrics) WriterOption {
	return func(w *Writer) {
		w.metrics = m
	}
}

// NewWriter wires a writer over the document store.
func NewWriter(store docstore.Store, logger *logging.Logger, opts ...WriterOption) *Writer {
	if store == nil {
		panic("scheduling: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	w := &Writer{store: store, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Commit writes both copies of c. Each step that fails returns a distinct
// error and later steps do not run:
//
//  1. the requester profile must exist
//  2. the provider profile must exist
//  3. the provider commitments list is initialized if absent
//  4. the requester-side copy is unioned, keyed by its full value
//  5. the provider-side copy is unioned, keyed by date and slot
//
// A step 5 failure removes the entry step 4 added. If that removal fails too
// the booking is audited as orphaned and ErrOrphanedCommitment is returned.
func (w *Writer) Commit(ctx context.Context, requesterID, requesterName string, c Commitment) (Result, error) {
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return Result{}, fmt.Errorf("%w: requester id required", ErrInvalidCommitment)
	}
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	ctx, span := writerTracer.Start(ctx, "scheduling.commit")
	defer span.End()
	span.SetAttributes(
		attribute.String("healme.requester_id", requesterID),
		attribute.String("healme.provider_id", c.ProviderID),
		attribute.String("healme.date", c.Date),
		attribute.String("healme.slot", c.Slot),
	)

	result, outcome, err := w.commit(ctx, span, requesterID, requesterName, c)
	w.metrics.ObserveBooking(outcome)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	return result, nil
}

func (w *Writer) commit(ctx context.Context, span trace.Span, requesterID, requesterName string, c Commitment) (Result, string, error) {
	var requester profiles.Requester
	if err := w.store.Get(ctx, profiles.RequestersCollection, requesterID, &requester); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Result{}, "requester_missing", ErrRequesterNotFound
		}
		return Result{}, "error", fmt.Errorf("scheduling: read requester: %w", err)
	}
	if strings.TrimSpace(requesterName) == "" {
		requesterName = requester.Name
	}
	if strings.TrimSpace(requesterName) == "" {
		return Result{}, "invalid", fmt.Errorf("%w: requester name unknown", ErrInvalidCommitment)
	}

	var provider profiles.Provider
	if err := w.store.Get(ctx, profiles.ProvidersCollection, c.ProviderID, &provider); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return Result{}, "provider_missing", ErrProviderNotFound
		}
		return Result{}, "error", fmt.Errorf("scheduling: read provider: %w", err)
	}
	if c.ProviderName == "" {
		c.ProviderName = provider.Name
	}
	if c.Specialty == "" {
		c.Specialty = provider.Specialty
	}

	if err := w.store.InitArray(ctx, profiles.ProvidersCollection, c.ProviderID, profiles.CommitmentsField); err != nil {
		return Result{}, "error", fmt.Errorf("scheduling: init provider commitments: %w", err)
	}

	requesterSide := c.RequesterSide()
	addedRequester, err := w.store.Union(ctx, profiles.RequestersCollection, requesterID, profiles.CommitmentsField, requesterSide.Key(), requesterSide)
	if err != nil {
		return Result{}, "error", fmt.Errorf("scheduling: write requester commitment: %w", err)
	}

	result := Result{
		Commitment:     c,
		RequesterID:    requesterID,
		RequesterName:  requesterName,
		RequesterEmail: requester.Email,
		ProviderEmail:  provider.Email,
	}

	providerSide := c.ProviderSide(requesterName)
	addedProvider, err := w.store.Union(ctx, profiles.ProvidersCollection, c.ProviderID, profiles.CommitmentsField, providerSide.SlotKey(), providerSide)
	if err == nil && !addedProvider {
		if addedRequester {
			// A fresh requester-side write cannot be a replay, whoever holds the slot.
			err = ErrSlotTaken
		} else {
			err = w.checkSlotHolder(ctx, c, requesterName)
		}
	}
	if err != nil {
		span.SetAttributes(attribute.Bool("healme.compensating", addedRequester))
		outcome := "error"
		if errors.Is(err, ErrSlotTaken) {
			outcome = "slot_taken"
		} else {
			err = fmt.Errorf("scheduling: write provider commitment: %w", err)
		}
		if addedRequester {
			if cerr := w.compensate(ctx, requesterID, requesterSide, err); cerr != nil {
				return Result{}, "orphaned", cerr
			}
		}
		return Result{}, outcome, err
	}

	if !addedRequester && !addedProvider {
		result.Replayed = true
		return result, "replayed", nil
	}

	if w.audit != nil {
		if aerr := w.audit.Log(ctx, compliance.EventAppointmentCommitted, requesterID, requesterID, c.ProviderID, c); aerr != nil {
			w.logger.Warn("failed to audit committed appointment", "error", aerr, "requester_id", requesterID)
		}
	}
	w.logger.Info("appointment committed",
		"requester_id", requesterID,
		"provider_id", c.ProviderID,
		"date", c.Date,
		"slot", c.Slot,
	)
	return result, "committed", nil
}

// checkSlotHolder decides whether an existing provider-side entry for the
// slot is this requester's own earlier write. Only called when the
// requester side already held the commitment.
func (w *Writer) checkSlotHolder(ctx context.Context, c Commitment, requesterName string) error {
	var provider profiles.Provider
	if err := w.store.Get(ctx, profiles.ProvidersCollection, c.ProviderID, &provider); err != nil {
		return fmt.Errorf("scheduling: reread provider: %w", err)
	}
	for _, existing := range provider.ProviderCommitments(w.logger) {
		if existing.Date == c.Date && existing.Slot == c.Slot && existing.RequesterName == requesterName {
			return nil
		}
	}
	return ErrSlotTaken
}

func (w *Writer) compensate(ctx context.Context, requesterID string, entry profiles.RequesterCommitment, cause error) error {
	_, err := w.store.Remove(ctx, profiles.RequestersCollection, requesterID, profiles.CommitmentsField, entry.Key())
	if err == nil {
		w.metrics.ObserveCompensation("succeeded")
		w.logger.Info("requester commitment rolled back",
			"requester_id", requesterID,
			"provider_id", entry.ProviderID,
			"cause", cause,
		)
		return nil
	}

	w.metrics.ObserveCompensation("failed")
	w.logger.Error("requester commitment orphaned",
		"requester_id", requesterID,
		"provider_id", entry.ProviderID,
		"date", entry.Date,
		"slot", entry.Slot,
		"cause", cause,
		"error", err,
	)
	if w.audit != nil {
		details := map[string]any{
			"commitment":         entry,
			"providerWriteError": cause.Error(),
			"compensationError":  err.Error(),
		}
		if aerr := w.audit.Log(ctx, compliance.EventCommitmentOrphaned, requesterID, "", entry.ProviderID, details); aerr != nil {
			w.logger.Error("failed to audit orphaned commitment", "error", aerr, "requester_id", requesterID)
		}
	}
	return fmt.Errorf("%w: provider write: %w; rollback: %w", ErrOrphanedCommitment, cause, err)
}
