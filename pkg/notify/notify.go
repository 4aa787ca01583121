package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/metrics"
	"github.com/ebb-cloud/ebb/pkg/types"
)

// Action is a button attached to a message. Callback is the opaque payload
// the chat platform returns when the button is pressed.
type Action struct {
	Label    string
	Callback string
}

// Messenger delivers rendered notifications to a chat platform.
type Messenger interface {
	Name() string
	SendMessage(ctx context.Context, chatID int64, text string, actions []Action) error
	SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error
}

// Dispatcher turns lifecycle events into chat messages. Delivery is
// best-effort: a failed send is counted and logged, never retried, and never
// stalls the event that caused it.
type Dispatcher struct {
	broker          *events.Broker
	messenger       Messenger
	broadcastChatID int64

	sub    events.Subscriber
	stopCh chan struct{}
}

// NewDispatcher creates a dispatcher. broadcastChatID may be zero to
// disable the shared announcement channel.
func NewDispatcher(broker *events.Broker, messenger Messenger, broadcastChatID int64) *Dispatcher {
	return &Dispatcher{
		broker:          broker,
		messenger:       messenger,
		broadcastChatID: broadcastChatID,
		stopCh:          make(chan struct{}),
	}
}

// Start subscribes to the broker and begins delivering.
func (d *Dispatcher) Start() {
	d.sub = d.broker.Subscribe()
	go func() {
		for {
			select {
			case event, ok := <-d.sub:
				if !ok {
					return
				}
				d.handle(event)
			case <-d.stopCh:
				return
			}
		}
	}()
}

// Stop unsubscribes and stops the delivery loop.
func (d *Dispatcher) Stop() {
	close(d.stopCh)
	d.broker.Unsubscribe(d.sub)
}

func (d *Dispatcher) handle(event *events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ownerID := ownerChat(event)
	text, actions := Render(event)
	if text == "" {
		return
	}

	if ownerID != 0 {
		d.send(ctx, ownerID, text, actions)
		if event.Kind == events.KindReady && len(event.Kubeconfig) > 0 {
			name := fmt.Sprintf("%s-kubeconfig.yaml", event.Cluster.ClusterName)
			if err := d.messenger.SendDocument(ctx, ownerID, name, event.Kubeconfig, "Cluster credentials"); err != nil {
				d.countFailure(err, "Failed to send kubeconfig")
			}
		}
	}

	// The broadcast channel gets the news without the buttons.
	if d.broadcastChatID != 0 && d.broadcastChatID != ownerID {
		d.send(ctx, d.broadcastChatID, text, nil)
	}
}

func (d *Dispatcher) send(ctx context.Context, chatID int64, text string, actions []Action) {
	if err := d.messenger.SendMessage(ctx, chatID, text, actions); err != nil {
		d.countFailure(err, "Failed to send notification")
	}
}

func (d *Dispatcher) countFailure(err error, msg string) {
	metrics.NotificationFailures.WithLabelValues(d.messenger.Name()).Inc()
	logger := log.WithComponent("notify")
	logger.Warn().Err(err).Msg(msg)
}

// ownerChat picks the chat that owns the resource an event concerns.
func ownerChat(event *events.Event) int64 {
	switch {
	case event.Instance != nil:
		return event.Instance.CreatorID
	case event.Cluster != nil:
		return event.Cluster.CreatorID
	default:
		return event.ActorID
	}
}

// Render produces the message text and buttons for an event. An empty text
// means the event is not user-facing.
func Render(event *events.Event) (string, []Action) {
	switch {
	case event.Instance != nil:
		return renderInstance(event)
	case event.Cluster != nil:
		return renderCluster(event)
	default:
		return "", nil
	}
}

func renderInstance(event *events.Event) (string, []Action) {
	inst := event.Instance
	id := inst.DropletID
	owner := ownerLine(inst.Owner())

	switch event.Kind {
	case events.KindCreated:
		text := fmt.Sprintf("🖥 Instance %s is up\nIP: %s\nType: %s%s%s\nExpires: %s%s",
			inst.Name, orPending(inst.IPAddress), types.DropletTypeLabel(inst.DropletType),
			priceLine(inst.PriceHourly), owner, expiry(inst.ExpirationDate), dnsLine(inst))
		return text, instanceActions(id)
	case events.KindExtended:
		return fmt.Sprintf("⏰ Instance %s extended by %d days%s\nNew expiry: %s",
			inst.Name, event.ExtendedDays, owner, expiry(event.NewExpiry)), nil
	case events.KindDeleted:
		return fmt.Sprintf("🗑 Instance %s deleted%s", inst.Name, owner), nil
	case events.KindAutoDeleted:
		return fmt.Sprintf("🗑 Instance %s removed automatically (%s)%s", inst.Name, event.Note, owner), nil
	case events.KindSnapshotCreated:
		return fmt.Sprintf("📸 Snapshot %s saved for instance %s%s", event.Note, inst.Name, owner), nil
	case events.KindExpiryWarning:
		text := fmt.Sprintf("⚠️ Instance %s expires %s%s\nExtend the lease or it will be snapshotted and removed.",
			inst.Name, expiry(inst.ExpirationDate), owner)
		return text, instanceActions(id)
	default:
		return "", nil
	}
}

func renderCluster(event *events.Event) (string, []Action) {
	cl := event.Cluster
	id := cl.ClusterID
	owner := ownerLine(cl.Owner())

	switch event.Kind {
	case events.KindCreated:
		return fmt.Sprintf("☸️ Cluster %s is provisioning\nVersion: %s, nodes: %d x %s%s\nExpires: %s\nYou will be notified when it is ready.",
			cl.ClusterName, cl.Version, cl.NodeCount, cl.NodeSize, owner, expiry(cl.ExpirationDate)), nil
	case events.KindReady:
		text := fmt.Sprintf("☸️ Cluster %s is ready\nEndpoint: %s%s\nExpires: %s",
			cl.ClusterName, orPending(event.Endpoint), owner, expiry(cl.ExpirationDate))
		return text, clusterActions(id)
	case events.KindErrored:
		return fmt.Sprintf("❌ Cluster %s failed to provision: %s%s\nIt will not be removed automatically.",
			cl.ClusterName, orUnknown(event.Note), owner), nil
	case events.KindExtended:
		return fmt.Sprintf("⏰ Cluster %s extended by %d days%s\nNew expiry: %s",
			cl.ClusterName, event.ExtendedDays, owner, expiry(event.NewExpiry)), nil
	case events.KindDeleted:
		return fmt.Sprintf("🗑 Cluster %s deleted%s", cl.ClusterName, owner), nil
	case events.KindAutoDeleted:
		return fmt.Sprintf("🗑 Cluster %s removed automatically (%s)%s", cl.ClusterName, event.Note, owner), nil
	case events.KindExpiryWarning:
		text := fmt.Sprintf("⚠️ Cluster %s expires %s%s\nExtend the lease or it will be removed.",
			cl.ClusterName, expiry(cl.ExpirationDate), owner)
		return text, clusterActions(id)
	default:
		return "", nil
	}
}

func instanceActions(id int64) []Action {
	return []Action{
		{Label: "Extend 3 days", Callback: fmt.Sprintf("extend_3_%d", id)},
		{Label: "Extend 7 days", Callback: fmt.Sprintf("extend_7_%d", id)},
		{Label: "Delete now", Callback: fmt.Sprintf("delete_%d", id)},
	}
}

func clusterActions(id string) []Action {
	return []Action{
		{Label: "Extend 3 days", Callback: "k8s_extend_3_" + id},
		{Label: "Extend 7 days", Callback: "k8s_extend_7_" + id},
		{Label: "Delete now", Callback: "k8s_delete_" + id},
	}
}

func ownerLine(owner string) string {
	return "\nOwner: " + owner
}

func expiry(t time.Time) string {
	return t.Format("2006-01-02 15:04 MST")
}

func priceLine(hourly *float64) string {
	if hourly == nil {
		return ""
	}
	return fmt.Sprintf("\nPrice: $%.2f/mo", types.MonthlyPrice(*hourly))
}

func dnsLine(inst *types.Instance) string {
	if inst.DomainName == nil {
		return ""
	}
	return "\nDNS: " + *inst.DomainName
}

func orPending(s string) string {
	if s == "" {
		return "(pending)"
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
