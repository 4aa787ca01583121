package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebb-cloud/ebb/pkg/types"
)

func TestPublishFillsIDAndTimestamp(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()

	broker.Publish(&Event{
		Kind:     KindCreated,
		Instance: &types.Instance{DropletID: 1, Name: "box"},
	})

	select {
	case event := <-sub:
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
		assert.Equal(t, KindCreated, event.Kind)
		require.NotNil(t, event.Instance)
		assert.Equal(t, int64(1), event.Instance.DropletID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()
	assert.Equal(t, 2, broker.SubscriberCount())

	broker.Publish(&Event{Kind: KindExtended, ExtendedDays: 3})

	for _, sub := range []Subscriber{a, b} {
		select {
		case event := <-sub:
			assert.Equal(t, KindExtended, event.Kind)
			assert.Equal(t, 3, event.ExtendedDays)
		case <-time.After(time.Second):
			t.Fatal("event not delivered to all subscribers")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)
	assert.Equal(t, 0, broker.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer fills and later events are dropped for it.
	_ = broker.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			broker.Publish(&Event{Kind: KindExpiryWarning})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
