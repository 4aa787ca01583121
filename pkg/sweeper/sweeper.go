package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/metrics"
	"github.com/ebb-cloud/ebb/pkg/snapshot"
	"github.com/ebb-cloud/ebb/pkg/storage"
	"github.com/ebb-cloud/ebb/pkg/types"
)

// Lifecycle is the slice of the manager the sweeper drives.
type Lifecycle interface {
	ReclaimInstance(ctx context.Context, dropletID int64, note string) error
	ReclaimCluster(ctx context.Context, clusterID, note string) error
}

// Snapshotter archives a droplet before it is reclaimed.
type Snapshotter interface {
	SnapshotAndWait(ctx context.Context, dropletID int64, name string) (snapshot.Outcome, error)
}

// Provisioner settles clusters that are still provisioning.
type Provisioner interface {
	PollOnce(ctx context.Context) error
}

// Config holds sweep timing.
type Config struct {
	// Interval between sweep passes.
	Interval time.Duration
	// WarningWindow is how far ahead of expiry owners get warned.
	WarningWindow time.Duration
}

// DefaultConfig sweeps twice a day and warns a day ahead.
func DefaultConfig() Config {
	return Config{
		Interval:      12 * time.Hour,
		WarningWindow: 24 * time.Hour,
	}
}

// Sweeper periodically warns about approaching expiries and reclaims
// resources whose lease has run out. The store is re-read immediately before
// every destructive step, so an extension granted while a sweep (or a
// snapshot inside it) is running always wins.
type Sweeper struct {
	store       storage.Store
	lifecycle   Lifecycle
	snapshots   Snapshotter
	publisher   events.Publisher
	provisioner Provisioner
	cfg         Config

	// warned remembers which (resource, expiry) pairs have been warned
	// about, so one expiry produces one warning. An extension changes the
	// expiry and re-arms the warning.
	warned map[string]time.Time

	stopCh chan struct{}
	now    func() time.Time
}

// New creates a Sweeper.
func New(store storage.Store, lifecycle Lifecycle, snapshots Snapshotter, publisher events.Publisher, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.WarningWindow <= 0 {
		cfg.WarningWindow = DefaultConfig().WarningWindow
	}
	return &Sweeper{
		store:     store,
		lifecycle: lifecycle,
		snapshots: snapshots,
		publisher: publisher,
		cfg:       cfg,
		warned:    make(map[string]time.Time),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
}

// DelegateProvisioning makes every sweep finish with a provisioning pass, so
// a cluster created just before a sweep settles without waiting for the
// poller's own tick.
func (s *Sweeper) DelegateProvisioning(p Provisioner) {
	s.provisioner = p
}

// Start runs a sweep immediately and then on every tick.
func (s *Sweeper) Start() {
	ticker := time.NewTicker(s.cfg.Interval)
	go func() {
		s.sweep()

		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the sweep loop.
func (s *Sweeper) Stop() {
	close(s.stopCh)
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()
	if err := s.SweepOnce(ctx); err != nil {
		logger := log.WithComponent("sweeper")
		logger.Error().Err(err).Msg("Sweep pass failed")
	}
}

// SweepOnce runs one full pass: warn, then reclaim. Per-resource failures
// are logged and skipped; the pass keeps going.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	logger := log.WithComponent("sweeper")
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.SweepDuration)
		metrics.SweepsTotal.Inc()
	}()
	now := s.now()

	if err := s.warnInstances(ctx, now); err != nil {
		logger.Error().Err(err).Msg("Failed to scan instances for warnings")
	}
	if err := s.warnClusters(ctx, now); err != nil {
		logger.Error().Err(err).Msg("Failed to scan clusters for warnings")
	}
	if err := s.reclaimInstances(ctx, now); err != nil {
		logger.Error().Err(err).Msg("Failed to reclaim expired instances")
	}
	if err := s.reclaimClusters(ctx, now); err != nil {
		logger.Error().Err(err).Msg("Failed to reclaim expired clusters")
	}
	if s.provisioner != nil {
		if err := s.provisioner.PollOnce(ctx); err != nil {
			logger.Error().Err(err).Msg("Provisioning pass failed")
		}
	}
	s.pruneWarned(now)
	return nil
}

func instanceKey(id int64) string { return fmt.Sprintf("i:%d", id) }
func clusterKey(id string) string { return "c:" + id }

func (s *Sweeper) warnInstances(ctx context.Context, now time.Time) error {
	expiring, err := s.store.ListInstancesExpiringWithin(ctx, now, s.cfg.WarningWindow)
	if err != nil {
		return err
	}
	for _, inst := range expiring {
		key := instanceKey(inst.DropletID)
		if s.warned[key].Equal(inst.ExpirationDate) {
			continue
		}
		s.warned[key] = inst.ExpirationDate
		metrics.ExpiryWarnings.Inc()
		s.publisher.Publish(&events.Event{
			Kind:     events.KindExpiryWarning,
			Instance: inst,
		})
	}
	return nil
}

func (s *Sweeper) warnClusters(ctx context.Context, now time.Time) error {
	expiring, err := s.store.ListClustersExpiringWithin(ctx, now, s.cfg.WarningWindow)
	if err != nil {
		return err
	}
	for _, cl := range expiring {
		if cl.Status == types.ClusterErrored {
			continue
		}
		key := clusterKey(cl.ClusterID)
		if s.warned[key].Equal(cl.ExpirationDate) {
			continue
		}
		s.warned[key] = cl.ExpirationDate
		metrics.ExpiryWarnings.Inc()
		s.publisher.Publish(&events.Event{
			Kind:    events.KindExpiryWarning,
			Cluster: cl,
		})
	}
	return nil
}

func (s *Sweeper) reclaimInstances(ctx context.Context, now time.Time) error {
	expired, err := s.store.ListInstancesExpiredBefore(ctx, now)
	if err != nil {
		return err
	}
	logger := log.WithComponent("sweeper")
	for _, inst := range expired {
		if err := s.reclaimInstance(ctx, inst); err != nil {
			logger.Error().Err(err).Int64("droplet_id", inst.DropletID).Msg("Failed to reclaim instance")
		}
	}
	return nil
}

func (s *Sweeper) reclaimInstance(ctx context.Context, inst *types.Instance) error {
	// Fresh read: the listing may be stale by the time we get here.
	current, err := s.store.GetInstance(ctx, inst.DropletID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ExpirationDate.After(s.now()) {
		return nil
	}

	logger := log.WithDroplet(current.DropletID)
	name := fmt.Sprintf("%s-auto-%s", current.Name, s.now().Format("2006-01-02"))
	outcome, err := s.snapshots.SnapshotAndWait(ctx, current.DropletID, name)
	switch {
	case err != nil:
		// The disk image is lost but the lease is still over.
		logger.Warn().Err(err).Msg("Pre-reclaim snapshot failed")
	case outcome == snapshot.OutcomeCompleted:
		s.publisher.Publish(&events.Event{
			Kind:     events.KindSnapshotCreated,
			Instance: current,
			Note:     name,
		})
	}

	// The snapshot can take minutes. Check the lease one more time before
	// the destructive step.
	current, err = s.store.GetInstance(ctx, current.DropletID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ExpirationDate.After(s.now()) {
		logger.Info().Msg("Lease extended during snapshot, keeping instance")
		return nil
	}

	if err := s.lifecycle.ReclaimInstance(ctx, current.DropletID, "lease expired"); err != nil {
		return err
	}
	metrics.ResourcesReclaimed.WithLabelValues("instance").Inc()
	delete(s.warned, instanceKey(current.DropletID))
	return nil
}

func (s *Sweeper) reclaimClusters(ctx context.Context, now time.Time) error {
	expired, err := s.store.ListClustersExpiredBefore(ctx, now)
	if err != nil {
		return err
	}
	logger := log.WithComponent("sweeper")
	for _, cl := range expired {
		if err := s.reclaimCluster(ctx, cl); err != nil {
			logger.Error().Err(err).Str("cluster_id", cl.ClusterID).Msg("Failed to reclaim cluster")
		}
	}
	return nil
}

func (s *Sweeper) reclaimCluster(ctx context.Context, cl *types.Cluster) error {
	current, err := s.store.GetCluster(ctx, cl.ClusterID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ExpirationDate.After(s.now()) || current.Status == types.ClusterErrored {
		return nil
	}

	if err := s.lifecycle.ReclaimCluster(ctx, current.ClusterID, "lease expired"); err != nil {
		return err
	}
	metrics.ResourcesReclaimed.WithLabelValues("cluster").Inc()
	delete(s.warned, clusterKey(current.ClusterID))
	return nil
}

// pruneWarned drops warning records whose expiry is long past, keeping the
// map from growing with resources that were deleted out of band.
func (s *Sweeper) pruneWarned(now time.Time) {
	for key, expiry := range s.warned {
		if now.Sub(expiry) > 2*s.cfg.WarningWindow {
			delete(s.warned, key)
		}
	}
}
