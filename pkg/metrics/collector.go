package metrics

import (
	"context"
	"time"

	"github.com/ebb-cloud/ebb/pkg/storage"
	"github.com/ebb-cloud/ebb/pkg/types"
)

// Collector periodically refreshes inventory gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new inventory collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if count, err := c.store.CountInstances(ctx); err == nil {
		InstancesTracked.Set(float64(count))
	}

	counts, err := c.store.CountClustersByStatus(ctx)
	if err != nil {
		UpdateComponent("database", false, err.Error())
		return
	}
	UpdateComponent("database", true, "reachable")
	for _, status := range []types.ClusterStatus{
		types.ClusterProvisioning,
		types.ClusterRunning,
		types.ClusterErrored,
	} {
		ClustersTracked.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
