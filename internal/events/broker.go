package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBuffer is the channel capacity of each subscriber.
const subscriberBuffer = 100

// Subscriber represents an execution event stream subscriber.
type Subscriber struct {
	ID         string
	FunctionID string // "" for all functions
	Ch         chan *Event
	CreatedAt  time.Time
}

// Publisher accepts execution events.
type Publisher interface {
	Publish(e *Event)
}

// Broker manages event subscriptions and publishing.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	history     *History
	logger      *slog.Logger
}

// NewBroker creates a new event broker.
func NewBroker(history *History, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		history:     history,
		logger:      logger,
	}
}

// Subscribe creates a new subscription, optionally filtered by function.
// After Close the returned subscriber's channel is already closed.
func (b *Broker) Subscribe(functionID string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:         uuid.New().String(),
		FunctionID: functionID,
		Ch:         make(chan *Event, subscriberBuffer),
		CreatedAt:  time.Now(),
	}
	if b.closed {
		close(sub.Ch)
		return sub
	}
	b.subscribers[sub.ID] = sub
	b.logger.Debug("subscriber added", "subscriber_id", sub.ID, "function_id", functionID)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[sub.ID]; exists {
		close(sub.Ch)
		delete(b.subscribers, sub.ID)
		b.logger.Debug("subscriber removed", "subscriber_id", sub.ID)
	}
}

// Publish records an event and sends it to all matching subscribers.
// Slow subscribers miss events rather than blocking the publisher.
func (b *Broker) Publish(e *Event) {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.history.Add(e)

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if sub.FunctionID != "" && sub.FunctionID != e.FunctionID {
			continue
		}
		select {
		case sub.Ch <- e:
		default:
			b.logger.Warn("subscriber channel full, dropping event",
				"subscriber_id", sub.ID,
				"execution_id", e.ExecutionID,
			)
		}
	}
}

// Close ends every subscription and refuses new ones. Events are still
// recorded in history.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
	b.logger.Info("event streams closed")
}

// Recent returns up to n recent events for functionID, oldest first.
func (b *Broker) Recent(n int, functionID string) []*Event {
	return b.history.Last(n, functionID)
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
