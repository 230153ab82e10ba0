package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/healme-core/internal/identity"
	"github.com/wolfman30/healme-core/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
)

// Consumer drains session-change events from the queue into a Manager.
type Consumer struct {
	queue   identity.ChangeQueue
	manager *Manager
	logger  *logging.Logger
	cfg     consumerConfig
	wg      sync.WaitGroup
}

type consumerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// ConsumerOption customizes consumer behavior.
type ConsumerOption func(*consumerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the SQS long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) ConsumerOption {
	return func(cfg *consumerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// NewConsumer constructs a queue consumer feeding manager.
func NewConsumer(queue identity.ChangeQueue, manager *Manager, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if queue == nil {
		panic("session: queue cannot be nil")
	}
	if manager == nil {
		panic("session: manager cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := consumerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Consumer{queue: queue, manager: manager, logger: logger, cfg: cfg}
}

// Start launches consumer goroutines until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.cfg.workers; i++ {
		c.wg.Add(1)
		go c.run(ctx, i+1)
	}
}

// Wait blocks until all consumer goroutines exit.
func (c *Consumer) Wait() {
	c.wg.Wait()
}

func (c *Consumer) run(ctx context.Context, workerID int) {
	defer c.wg.Done()
	c.logger.Debug("session consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("session consumer stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := c.queue.Receive(ctx, c.cfg.receiveBatchSize, c.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to receive session changes", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.handleMessage(ctx, msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg identity.QueueMessage) {
	change, err := identity.DecodeChange(msg.Body)
	if err != nil {
		c.logger.Error("dropping malformed session change", "error", err, "msg_id", msg.ID)
		c.deleteMessage(msg.ReceiptHandle)
		return
	}
	if err := c.manager.Apply(ctx, change); err != nil {
		c.logger.Error("failed to apply session change", "error", err, "device_id", change.DeviceID)
	} else {
		c.logger.Debug("session change applied", "device_id", change.DeviceID, "kind", change.Kind, "subject_id", change.SubjectID)
	}
	c.deleteMessage(msg.ReceiptHandle)
}

func (c *Consumer) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := c.queue.Delete(ctx, receiptHandle); err != nil {
		c.logger.Error("failed to delete session change", "error", err)
	}
}
