package poller

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ebb-cloud/ebb/pkg/compute"
	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/metrics"
	"github.com/ebb-cloud/ebb/pkg/storage"
	"github.com/ebb-cloud/ebb/pkg/types"
)

// DefaultInterval matches how quickly cluster state moves at the provider.
const DefaultInterval = 30 * time.Second

// ProviderAPI is the slice of the provider surface the poller needs.
type ProviderAPI interface {
	GetCluster(ctx context.Context, id string) (*compute.ClusterInfo, error)
	GetKubeconfig(ctx context.Context, id string) ([]byte, error)
}

// Poller watches provisioning clusters and settles each one into running or
// errored exactly once. The status transition in the store is the gate: only
// the call that actually flipped the row publishes the event, so a restart
// or a concurrent poll cannot announce a cluster twice.
type Poller struct {
	store     storage.Store
	api       ProviderAPI
	publisher events.Publisher
	interval  time.Duration
	stopCh    chan struct{}
}

// New creates a Poller.
func New(store storage.Store, api ProviderAPI, publisher events.Publisher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		store:     store,
		api:       api,
		publisher: publisher,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start polls immediately and then on every tick.
func (p *Poller) Start() {
	ticker := time.NewTicker(p.interval)
	go func() {
		p.poll()

		for {
			select {
			case <-ticker.C:
				p.poll()
			case <-p.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the poll loop.
func (p *Poller) Stop() {
	close(p.stopCh)
}

func (p *Poller) poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()
	if err := p.PollOnce(ctx); err != nil {
		logger := log.WithComponent("poller")
		logger.Error().Err(err).Msg("Poll pass failed")
	}
}

// PollOnce checks every provisioning cluster once. Per-cluster failures are
// logged and left for the next tick.
func (p *Poller) PollOnce(ctx context.Context) error {
	pending, err := p.store.ListProvisioningClusters(ctx)
	if err != nil {
		return err
	}
	for _, cl := range pending {
		if err := p.check(ctx, cl); err != nil {
			logger := log.WithCluster(cl.ClusterID)
			logger.Error().Err(err).Msg("Failed to check cluster")
		}
	}
	return nil
}

func (p *Poller) check(ctx context.Context, cl *types.Cluster) error {
	logger := log.WithCluster(cl.ClusterID)

	info, err := p.api.GetCluster(ctx, cl.ClusterID)
	if compute.IsNotFound(err) {
		// Deleted out from under us at the provider.
		return p.settleErrored(ctx, cl, "cluster no longer exists at provider")
	}
	if err != nil {
		return err
	}

	switch info.State {
	case "running", "degraded":
		// Degraded still serves the API; the lease clock keeps running
		// either way.
		return p.settleRunning(ctx, cl, info)
	case "error", "errored":
		return p.settleErrored(ctx, cl, info.Message)
	default:
		logger.Debug().Str("state", info.State).Msg("Cluster still provisioning")
		return nil
	}
}

func (p *Poller) settleRunning(ctx context.Context, cl *types.Cluster, info *compute.ClusterInfo) error {
	logger := log.WithCluster(cl.ClusterID)
	endpoint := info.Endpoint
	kubeconfig, err := p.api.GetKubeconfig(ctx, cl.ClusterID)
	if err != nil {
		logger.Warn().Err(err).Msg("Kubeconfig not available yet")
	} else if endpoint == "" {
		endpoint = endpointFromKubeconfig(kubeconfig)
	}

	transitioned, err := p.store.TransitionClusterStatus(ctx, cl.ClusterID, types.ClusterRunning, endpoint)
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	metrics.ProvisioningTransitions.WithLabelValues(string(types.ClusterRunning)).Inc()
	logger.Info().Str("endpoint", endpoint).Msg("Cluster is running")

	cl.Status = types.ClusterRunning
	cl.Endpoint = endpoint
	p.publisher.Publish(&events.Event{
		Kind:       events.KindReady,
		Cluster:    cl,
		Endpoint:   endpoint,
		Kubeconfig: kubeconfig,
	})
	return nil
}

func (p *Poller) settleErrored(ctx context.Context, cl *types.Cluster, reason string) error {
	transitioned, err := p.store.TransitionClusterStatus(ctx, cl.ClusterID, types.ClusterErrored, "")
	if err != nil {
		return err
	}
	if !transitioned {
		return nil
	}
	metrics.ProvisioningTransitions.WithLabelValues(string(types.ClusterErrored)).Inc()
	logger := log.WithCluster(cl.ClusterID)
	logger.Error().Str("reason", reason).Msg("Cluster provisioning failed")

	cl.Status = types.ClusterErrored
	p.publisher.Publish(&events.Event{
		Kind:    events.KindErrored,
		Cluster: cl,
		Note:    reason,
	})
	return nil
}

// endpointFromKubeconfig pulls the first server URL out of a kubeconfig.
func endpointFromKubeconfig(kubeconfig []byte) string {
	var doc struct {
		Clusters []struct {
			Cluster struct {
				Server string `yaml:"server"`
			} `yaml:"cluster"`
		} `yaml:"clusters"`
	}
	if err := yaml.Unmarshal(kubeconfig, &doc); err != nil {
		return ""
	}
	if len(doc.Clusters) == 0 {
		return ""
	}
	return doc.Clusters[0].Cluster.Server
}
