/*
Package events provides the in-memory broker that carries lifecycle events
between components.

Everything that happens to a leased resource flows through here: the manager
publishes user-triggered events, the sweeper publishes reclaims and expiry
warnings, the poller publishes readiness, and the notification dispatcher
subscribes to all of them.

# Architecture

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                           │
	│  Publishers                                               │
	│    manager   → created / extended / deleted               │
	│    sweeper   → auto_deleted / snapshot_created /          │
	│                expiry_warning                             │
	│    poller    → ready / errored                            │
	│                                                           │
	│  Publish → Event Channel (buffer: 100)                    │
	│       ↓                                                   │
	│  Broadcast Loop                                           │
	│       ↓                                                   │
	│  Subscriber Channels (buffer: 50 each)                    │
	│                                                           │
	│  Subscribers                                              │
	│    notify.Dispatcher → owner + broadcast messages         │
	│                                                           │
	└───────────────────────────────────────────────────────────┘

Delivery is at-least-once from the publisher's point of view and best-effort
per subscriber: publishing never blocks the component doing real work, and a
subscriber that stops draining its channel drops events instead of wedging
the broker.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for event := range sub {
			fmt.Printf("%s %s\n", event.Kind, event.ID)
		}
	}()

	broker.Publish(&events.Event{
		Kind:     events.KindCreated,
		Instance: inst,
		ActorID:  inst.CreatorID,
	})

Components take the Publisher interface rather than *Broker so tests can
swap in a recording implementation.
*/
package events
