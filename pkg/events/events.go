package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ebb-cloud/ebb/pkg/types"
)

// Kind identifies what happened to a leased resource.
type Kind string

const (
	KindCreated         Kind = "created"
	KindExtended        Kind = "extended"
	KindDeleted         Kind = "deleted"
	KindAutoDeleted     Kind = "auto_deleted"
	KindSnapshotCreated Kind = "snapshot_created"
	KindReady           Kind = "ready"
	KindErrored         Kind = "errored"
	KindExpiryWarning   Kind = "expiry_warning"
)

// Event is a lifecycle notification. Exactly one of Instance or Cluster is
// set, depending on which resource the event concerns.
type Event struct {
	ID        string
	Kind      Kind
	Timestamp time.Time

	Instance *types.Instance
	Cluster  *types.Cluster

	// ActorID is the user who triggered the event, zero for events the
	// system produced on its own (reclaims, warnings, readiness).
	ActorID int64

	// ExtendedDays and NewExpiry accompany KindExtended.
	ExtendedDays int
	NewExpiry    time.Time

	// Endpoint and Kubeconfig accompany KindReady for clusters.
	Endpoint   string
	Kubeconfig []byte

	// Note carries free-form context, e.g. why a resource was reclaimed
	// or what a snapshot attempt reported.
	Note string
}

// Publisher is the write side of the broker. Components that emit lifecycle
// events depend on this interface so tests can record what was published.
type Publisher interface {
	Publish(event *Event)
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker fans lifecycle events out to subscribers. Delivery is best-effort:
// a subscriber that stops draining its channel loses events rather than
// blocking the rest.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates an event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns its channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish enqueues an event for distribution, filling in the id and
// timestamp when the caller left them empty.
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
