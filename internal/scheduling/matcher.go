package scheduling

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/healme-core/internal/profiles"
	"github.com/wolfman30/healme-core/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var matcherTracer = otel.Tracer("healme.internal.scheduling.matcher")

// ProviderDirectory lists provider candidates by specialty.
type ProviderDirectory interface {
	ProvidersBySpecialty(ctx context.Context, specialty string) ([]profiles.Provider, error)
}

// Match is the provider chosen for a slot.
type Match struct {
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	Specialty    string `json:"specialty"`
}

// Commitment builds the commitment for booking this match at (date, slot).
func (m Match) Commitment(date, slot string) Commitment {
	return Commitment{
		ProviderID:   m.ProviderID,
		ProviderName: m.ProviderName,
		Specialty:    m.Specialty,
		Date:         date,
		Slot:         slot,
	}
}

// Matcher finds the first provider of a specialty with a free slot. The
// check is advisory; the provider-side write in Writer is what enforces
// uniqueness.
type Matcher struct {
	directory ProviderDirectory
	logger    *logging.Logger
}

// NewMatcher wires a matcher over the provider directory.
func NewMatcher(directory ProviderDirectory, logger *logging.Logger) *Matcher {
	if directory == nil {
		panic("scheduling: provider directory cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Matcher{directory: directory, logger: logger}
}

// FindAvailable returns the first provider, in directory order, with no
// commitment at (date, slot).
func (m *Matcher) FindAvailable(ctx context.Context, specialty, date, slot string) (Match, error) {
	specialty = strings.TrimSpace(specialty)
	if specialty == "" {
		return Match{}, fmt.Errorf("%w: specialty required", ErrInvalidCommitment)
	}
	if err := validateSlot(date, slot); err != nil {
		return Match{}, err
	}

	ctx, span := matcherTracer.Start(ctx, "scheduling.find_available")
	defer span.End()
	span.SetAttributes(
		attribute.String("healme.specialty", specialty),
		attribute.String("healme.date", date),
		attribute.String("healme.slot", slot),
	)

	candidates, err := m.directory.ProvidersBySpecialty(ctx, specialty)
	if err != nil {
		span.RecordError(err)
		return Match{}, fmt.Errorf("scheduling: find available: %w", err)
	}
	span.SetAttributes(attribute.Int("healme.candidates", len(candidates)))

	for i := range candidates {
		p := &candidates[i]
		if p.HasSlot(date, slot, m.logger) {
			continue
		}
		span.SetAttributes(attribute.String("healme.provider_id", p.ID))
		return Match{ProviderID: p.ID, ProviderName: p.Name, Specialty: p.Specialty}, nil
	}
	m.logger.Info("no provider available",
		"specialty", specialty,
		"date", date,
		"slot", slot,
		"candidates", len(candidates),
	)
	return Match{}, ErrNoProviderAvailable
}
