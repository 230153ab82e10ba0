package events

import (
	"context"
	"time"

	"github.com/wolfman30/healme-core/pkg/logging"
)

// Janitor periodically deletes delivered outbox rows and their dedupe
// records once they are older than the retention window.
type Janitor struct {
	outbox    *OutboxStore
	processed *ProcessedStore
	retention time.Duration
	interval  time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

func NewJanitor(outbox *OutboxStore, processed *ProcessedStore, retention time.Duration, logger *logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.Default()
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Janitor{
		outbox:    outbox,
		processed: processed,
		retention: retention,
		interval:  time.Hour,
		logger:    logger,
		now:       time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	cutoff := j.now().Add(-j.retention)
	if j.outbox != nil {
		n, err := j.outbox.PurgeDelivered(ctx, cutoff)
		if err != nil {
			j.logger.Error("outbox purge failed", "error", err)
		} else if n > 0 {
			j.logger.Info("purged delivered outbox entries", "count", n)
		}
	}
	if j.processed != nil {
		n, err := j.processed.PurgeBefore(ctx, cutoff)
		if err != nil {
			j.logger.Error("processed-events purge failed", "error", err)
		} else if n > 0 {
			j.logger.Info("purged processed event records", "count", n)
		}
	}
}
