package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wolfman30/healme-core/internal/events"
	"github.com/wolfman30/healme-core/pkg/logging"
)

const emailConsumer = "email"

// ProcessedTracker remembers which events a consumer already handled.
type ProcessedTracker interface {
	AlreadyProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

// Dispatcher delivers outbox entries: it sends the email once per event and
// pushes the event to the bus.
type Dispatcher struct {
	service   *Service
	bus       events.Bus
	processed ProcessedTracker
	logger    *logging.Logger
}

var _ events.DeliveryHandler = (*Dispatcher)(nil)

// NewDispatcher wires the outbox handler. bus and processed are optional.
func NewDispatcher(service *Service, bus events.Bus, processed ProcessedTracker, logger *logging.Logger) *Dispatcher {
	if service == nil {
		panic("notify: service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{service: service, bus: bus, processed: processed, logger: logger}
}

// Handle implements events.DeliveryHandler. Unknown event types are logged and
// acknowledged so they do not block the outbox.
func (d *Dispatcher) Handle(ctx context.Context, entry events.OutboxEntry) error {
	switch entry.Type {
	case events.TypeAppointmentCommitted:
		var evt events.AppointmentCommittedV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
		}
		return d.deliver(ctx, evt.EventID, events.SubjectAppointmentCommitted, evt, func() error {
			return d.service.NotifyAppointmentCommitted(ctx, evt)
		})
	case events.TypePrescriptionIssued:
		var evt events.PrescriptionIssuedV1
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			return fmt.Errorf("notify: decode %s: %w", entry.Type, err)
		}
		return d.deliver(ctx, evt.EventID, events.SubjectPrescriptionIssued, evt, func() error {
			return d.service.NotifyPrescriptionIssued(ctx, evt)
		})
	default:
		d.logger.Warn("notify: ignoring unknown outbox event", "type", entry.Type, "event_id", entry.ID)
		return nil
	}
}

func (d *Dispatcher) deliver(ctx context.Context, eventID, subject string, payload any, send func() error) error {
	seen := false
	if d.processed != nil && eventID != "" {
		var err error
		seen, err = d.processed.AlreadyProcessed(ctx, emailConsumer, eventID)
		if err != nil {
			return err
		}
	}
	if !seen {
		if err := send(); err != nil {
			return err
		}
		if d.processed != nil && eventID != "" {
			if _, err := d.processed.MarkProcessed(ctx, emailConsumer, eventID); err != nil {
				d.logger.Warn("notify: failed to record processed event", "error", err, "event_id", eventID)
			}
		}
	}
	if d.bus != nil {
		if err := d.bus.Publish(ctx, subject, payload); err != nil {
			d.logger.Warn("notify: bus publish failed", "error", err, "subject", subject, "event_id", eventID)
		}
	}
	return nil
}
