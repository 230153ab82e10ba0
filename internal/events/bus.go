package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/wolfman30/healme-core/pkg/logging"
)

// Message is a decoded bus delivery.
type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

// Subscription is returned by Subscribe.
type Subscription interface {
	Unsubscribe() error
}

// Bus is the fire-and-forget push channel to connected clients and other
// services. Payloads are JSON encoded.
type Bus interface {
	Publish(ctx context.Context, subject string, data any) error
	Subscribe(subject string, handler func(msg *Message)) (Subscription, error)
	Close() error
}

// NATSBus publishes over a NATS connection.
type NATSBus struct {
	conn   *nats.Conn
	logger *logging.Logger
}

var _ Bus = (*NATSBus)(nil)

// NewNATSBus connects to url.
func NewNATSBus(url string, logger *logging.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := nats.Connect(url, nats.Name("healme-core"))
	if err != nil {
		return nil, fmt.Errorf("events: connect to NATS: %w", err)
	}
	return &NATSBus{conn: conn, logger: logger}, nil
}

func (n *NATSBus) Publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("events: marshal event data: %w", err)
	}
	n.logger.DebugContext(ctx, "publishing event", "subject", subject)
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATSBus) Subscribe(subject string, handler func(msg *Message)) (Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        uuid.NewString(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("events: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (n *NATSBus) Close() error {
	n.conn.Close()
	return nil
}

// MemoryBus delivers synchronously to in-process subscribers. Subjects match
// exactly or by a trailing ">" wildcard.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[uint64]memorySub
	next uint64
}

type memorySub struct {
	subject string
	handler func(msg *Message)
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[uint64]memorySub{}}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("events: marshal event data: %w", err)
	}
	b.mu.RLock()
	var handlers []func(msg *Message)
	for _, sub := range b.subs {
		if subjectMatches(sub.subject, subject) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(&Message{Subject: subject, Data: payload, Timestamp: time.Now(), ID: uuid.NewString()})
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler func(msg *Message)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs[id] = memorySub{subject: subject, handler: handler}
	return memoryUnsubscriber(func() error {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		return nil
	}), nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.subs = map[uint64]memorySub{}
	b.mu.Unlock()
	return nil
}

type memoryUnsubscriber func() error

func (f memoryUnsubscriber) Unsubscribe() error { return f() }

func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	if n := len(pattern); n >= 2 && pattern[n-1] == '>' && pattern[n-2] == '.' {
		prefix := pattern[:n-1]
		return len(subject) > len(prefix) && subject[:len(prefix)] == prefix
	}
	return false
}
