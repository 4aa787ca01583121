package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ebb-cloud/ebb/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable record of every leased resource. It is the single
// source of truth for expiry and status; no component derives either
// independently.
type Store interface {
	// Instances
	CreateInstance(ctx context.Context, inst *types.Instance) error
	GetInstance(ctx context.Context, dropletID int64) (*types.Instance, error)
	DeleteInstance(ctx context.Context, dropletID int64) (bool, error)
	ListInstancesByCreator(ctx context.Context, creatorID int64) ([]*types.Instance, error)
	// ListInstancesExpiringWithin returns instances whose expiry lies in
	// (now, now+window].
	ListInstancesExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*types.Instance, error)
	// ListInstancesExpiredBefore returns instances whose expiry is at or
	// before now.
	ListInstancesExpiredBefore(ctx context.Context, now time.Time) ([]*types.Instance, error)
	// ExtendInstanceExpiration moves expiry to max(current, now) + days and
	// returns the new expiry. The lease never shortens.
	ExtendInstanceExpiration(ctx context.Context, dropletID int64, days int) (time.Time, error)
	UpdateInstanceDNS(ctx context.Context, dropletID int64, domainName string, recordID int64, zone string) error

	// SSH key preferences
	RecordSSHKeyUsage(ctx context.Context, userID int64, keyIDs []int64) error
	PreferredSSHKeys(ctx context.Context, userID int64) ([]int64, error)

	// Clusters
	CreateCluster(ctx context.Context, cl *types.Cluster) error
	GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error)
	GetClusterByName(ctx context.Context, name string, creatorID int64) (*types.Cluster, error)
	DeleteCluster(ctx context.Context, clusterID string) (bool, error)
	ListClustersByCreator(ctx context.Context, creatorID int64) ([]*types.Cluster, error)
	ListClustersExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*types.Cluster, error)
	// ListClustersExpiredBefore excludes errored clusters: those are left
	// for manual operator cleanup.
	ListClustersExpiredBefore(ctx context.Context, now time.Time) ([]*types.Cluster, error)
	ListProvisioningClusters(ctx context.Context) ([]*types.Cluster, error)
	// TransitionClusterStatus applies a forward-only status change and
	// reports whether this call performed the transition. A second call for
	// the same transition returns false.
	TransitionClusterStatus(ctx context.Context, clusterID string, status types.ClusterStatus, endpoint string) (bool, error)
	ExtendClusterExpiration(ctx context.Context, clusterID string, days int) (time.Time, error)

	// Inventory counts, read by the metrics collector.
	CountInstances(ctx context.Context) (int64, error)
	CountClustersByStatus(ctx context.Context) (map[types.ClusterStatus]int64, error)

	Close() error
}
