package events

import (
	"sync"
	"time"

	"github.com/shuttlehq/shuttle/pkg/types"
)

// Kind represents the type of notification
type Kind string

const (
	KindEventEnqueued     Kind = "queue.event_enqueued"
	KindEmbeddingEnqueued Kind = "queue.embedding_enqueued"
	KindSyncRunUpdated    Kind = "sync_run.updated"
	KindSourceUpdated     Kind = "source.updated"
)

// Notification is a payload-light wakeup signal. Queue notifications carry no
// body at all; sync-run updates carry the fresh row so SSE streams avoid a
// read back through the store.
type Notification struct {
	Kind      Kind
	Timestamp time.Time
	SyncRun   *types.SyncRun
}

// Subscriber is a channel that receives notifications
type Subscriber chan *Notification

// Broker manages subscriptions and fan-out. Publish never blocks the caller;
// a subscriber whose buffer is full misses the signal, which is why queue
// consumers poll once after subscribing instead of trusting wakeups alone.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	notifyCh    chan *Notification
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new notification broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		notifyCh:    make(chan *Notification, 256),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes a notification to all subscribers
func (b *Broker) Publish(n *Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	select {
	case b.notifyCh <- n:
	case <-b.stopCh:
	default:
		// Broker buffer full; consumers recover on their next poll tick.
	}
}

// NotifyEventEnqueued signals that the event queue has new pending work.
func (b *Broker) NotifyEventEnqueued() {
	b.Publish(&Notification{Kind: KindEventEnqueued})
}

// NotifyEmbeddingEnqueued signals that the embedding queue has new pending work.
func (b *Broker) NotifyEmbeddingEnqueued() {
	b.Publish(&Notification{Kind: KindEmbeddingEnqueued})
}

// NotifySyncRunUpdated publishes a fresh sync-run row to progress listeners.
func (b *Broker) NotifySyncRunUpdated(run *types.SyncRun) {
	b.Publish(&Notification{Kind: KindSyncRunUpdated, SyncRun: run})
}

func (b *Broker) run() {
	for {
		select {
		case n := <-b.notifyCh:
			b.broadcast(n)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(n *Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- n:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
