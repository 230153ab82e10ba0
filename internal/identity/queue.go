package identity

import "context"

// ChangeQueue carries encoded SessionChange bodies from the identity
// provider to the session worker.
type ChangeQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// QueueMessage is one received queue entry.
type QueueMessage struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// PublishChange encodes and enqueues a change.
func PublishChange(ctx context.Context, queue ChangeQueue, change SessionChange) error {
	if err := change.Validate(); err != nil {
		return err
	}
	body, err := EncodeChange(change)
	if err != nil {
		return err
	}
	return queue.Send(ctx, body)
}
