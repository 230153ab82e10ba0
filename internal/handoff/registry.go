package handoff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/wolfman30/healme-core/internal/docstore"
	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/internal/observability/metrics"
	"github.com/wolfman30/healme-core/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("healme.internal.handoff")

const (
	defaultLookupAttempts = 10
	defaultLookupInterval = time.Second
)

// Registry publishes, looks up and retires rendezvous records.
type Registry struct {
	store    docstore.Store
	bus      events.Bus
	metrics  *metrics.SchedulingMetrics
	logger   *logging.Logger
	attempts int
	interval time.Duration
	now      func() time.Time
}

// Option customizes a Registry.
type Option func(*Registry)

// WithBus announces published and retired channels.
func WithBus(b events.Bus) Option {
	return func(r *Registry) {
		r.bus = b
	}
}

// WithMetrics records lookup outcomes.
func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithPolling bounds Await. Non-positive values keep the defaults.
func WithPolling(attempts int, interval time.Duration) Option {
	return func(r *Registry) {
		if attempts > 0 {
			r.attempts = attempts
		}
		if interval > 0 {
			r.interval = interval
		}
	}
}

// NewRegistry wires a registry over the document store.
func NewRegistry(store docstore.Store, logger *logging.Logger, opts ...Option) *Registry {
	if store == nil {
		panic("handoff: store cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &Registry{
		store:    store,
		logger:   logger,
		attempts: defaultLookupAttempts,
		interval: defaultLookupInterval,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Publish writes a fresh record and returns its channel id. The caller can
// join the channel immediately.
func (r *Registry) Publish(ctx context.Context, providerID, date, slot, requesterName string) (string, error) {
	key := Key{ProviderID: providerID, Date: date, Slot: slot, RequesterName: requesterName}
	if err := key.Validate(); err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "handoff.publish")
	defer span.End()

	rec := Record{
		ID:            uuid.NewString(),
		ProviderID:    key.ProviderID,
		Date:          key.Date,
		Slot:          key.Slot,
		RequesterName: key.RequesterName,
		ChannelID:     ChannelPrefix + uuid.NewString(),
		CreatedAt:     r.now(),
	}
	span.SetAttributes(
		attribute.String("healme.provider_id", rec.ProviderID),
		attribute.String("healme.channel_id", rec.ChannelID),
	)
	if err := r.store.Create(ctx, Collection, rec.ID, rec); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("handoff: publish: %w", err)
	}

	r.logger.Info("handoff published",
		"channel_id", rec.ChannelID,
		"provider_id", rec.ProviderID,
		"date", rec.Date,
		"slot", rec.Slot,
	)
	r.emit(ctx, events.SubjectHandoffPublished, events.HandoffPublishedV1{
		ChannelID:     rec.ChannelID,
		RecordID:      rec.ID,
		ProviderID:    rec.ProviderID,
		Date:          rec.Date,
		Slot:          rec.Slot,
		RequesterName: rec.RequesterName,
		PublishedAt:   rec.CreatedAt,
	})
	return rec.ChannelID, nil
}

// Lookup returns the channel id of the oldest matching record. Duplicate
// publishes resolve to the same channel on both sides.
func (r *Registry) Lookup(ctx context.Context, providerID, date, slot, requesterName string) (string, error) {
	key := Key{ProviderID: providerID, Date: date, Slot: slot, RequesterName: requesterName}
	if err := key.Validate(); err != nil {
		return "", err
	}
	return r.lookup(ctx, key)
}

func (r *Registry) lookup(ctx context.Context, key Key) (string, error) {
	var records []Record
	if err := r.store.Query(ctx, Collection, key.filters(), &records); err != nil {
		return "", fmt.Errorf("handoff: lookup: %w", err)
	}
	if len(records) == 0 {
		return "", ErrNotFound
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records[0].ChannelID, nil
}

// Await polls Lookup until a record appears, the attempts run out, or ctx
// ends. Store errors on a single attempt are logged and retried.
func (r *Registry) Await(ctx context.Context, providerID, date, slot, requesterName string) (string, error) {
	key := Key{ProviderID: providerID, Date: date, Slot: slot, RequesterName: requesterName}
	if err := key.Validate(); err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "handoff.await")
	defer span.End()
	span.SetAttributes(attribute.String("healme.provider_id", key.ProviderID))

	for attempt := 1; attempt <= r.attempts; attempt++ {
		channelID, err := r.lookup(ctx, key)
		switch {
		case err == nil:
			span.SetAttributes(attribute.Int("healme.attempts", attempt))
			r.metrics.ObserveHandoffLookup("found", attempt)
			return channelID, nil
		case !errors.Is(err, ErrNotFound):
			r.logger.Warn("handoff lookup attempt failed",
				"error", err,
				"attempt", attempt,
				"provider_id", key.ProviderID,
			)
		}
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			r.metrics.ObserveHandoffLookup("cancelled", attempt)
			span.RecordError(ctx.Err())
			return "", fmt.Errorf("handoff: await: %w", ctx.Err())
		case <-time.After(r.interval):
		}
	}

	r.metrics.ObserveHandoffLookup("unreachable", r.attempts)
	r.logger.Info("handoff party unreachable",
		"provider_id", key.ProviderID,
		"date", key.Date,
		"slot", key.Slot,
		"attempts", r.attempts,
	)
	span.RecordError(ErrPartyUnreachable)
	return "", ErrPartyUnreachable
}

// Retire deletes every record for the channel and reports how many were
// removed. Retiring an unknown channel is not an error.
func (r *Registry) Retire(ctx context.Context, channelID string) (int, error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return 0, fmt.Errorf("%w: channelId required", ErrInvalidKey)
	}

	ctx, span := tracer.Start(ctx, "handoff.retire")
	defer span.End()
	span.SetAttributes(attribute.String("healme.channel_id", channelID))

	var records []Record
	if err := r.store.Query(ctx, Collection, []docstore.Filter{docstore.Eq("channelId", channelID)}, &records); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("handoff: retire: %w", err)
	}
	removed := 0
	for _, rec := range records {
		if err := r.store.Delete(ctx, Collection, rec.ID); err != nil {
			span.RecordError(err)
			return removed, fmt.Errorf("handoff: retire %s: %w", rec.ID, err)
		}
		removed++
	}

	r.logger.Info("handoff retired", "channel_id", channelID, "records", removed)
	r.emit(ctx, events.SubjectHandoffRetired, events.HandoffRetiredV1{
		ChannelID: channelID,
		Records:   removed,
		RetiredAt: r.now(),
	})
	return removed, nil
}

func (r *Registry) emit(ctx context.Context, subject string, payload any) {
	if r.bus == nil {
		return
	}
	if err := r.bus.Publish(ctx, subject, payload); err != nil {
		r.logger.Warn("failed to publish handoff event", "error", err, "subject", subject)
	}
}
