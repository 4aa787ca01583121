package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ebb-cloud/ebb/pkg/compute"
	"github.com/ebb-cloud/ebb/pkg/events"
	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/storage"
	"github.com/ebb-cloud/ebb/pkg/types"
)

// CreateClusterRequest describes a managed Kubernetes cluster lease.
type CreateClusterRequest struct {
	Name            string
	Version         string
	NodeSize        string
	NodeCount       int
	HA              bool
	Days            int
	CreatorID       int64
	CreatorUsername string
}

// CreateCluster provisions a cluster and records it in status provisioning;
// the poller announces readiness later. Creation is idempotent per
// (name, creator): repeating a request returns the existing cluster instead
// of provisioning a second one.
func (m *Manager) CreateCluster(ctx context.Context, req CreateClusterRequest) (*types.Cluster, error) {
	if !types.ValidResourceName(req.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, req.Name)
	}
	days := req.Days
	if days <= 0 {
		days = DefaultLeaseDays
	}
	if req.NodeCount <= 0 {
		req.NodeCount = 1
	}

	existing, err := m.store.GetClusterByName(ctx, req.Name, req.CreatorID)
	if err == nil {
		logger := log.WithCluster(existing.ClusterID)
		logger.Info().
			Str("name", req.Name).
			Msg("Cluster with this name already exists for creator, returning it")
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	info, err := m.api.CreateCluster(ctx, compute.ClusterCreateRequest{
		Name:      req.Name,
		Version:   req.Version,
		NodeSize:  req.NodeSize,
		NodeCount: req.NodeCount,
		HA:        req.HA,
		Owner:     ownerName(req.CreatorUsername, req.CreatorID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}

	now := time.Now()
	cl := &types.Cluster{
		ClusterID:      info.ID,
		ClusterName:    req.Name,
		Region:         info.Region,
		Version:        info.Version,
		NodeSize:       req.NodeSize,
		NodeCount:      req.NodeCount,
		Status:         types.ClusterProvisioning,
		CreatorID:      req.CreatorID,
		ExpirationDate: now.AddDate(0, 0, days),
		CreatedAt:      &now,
		HA:             req.HA,
	}
	if req.CreatorUsername != "" {
		cl.CreatorUsername = &req.CreatorUsername
	}
	if err := m.store.CreateCluster(ctx, cl); err != nil {
		return nil, fmt.Errorf("cluster %s created but not recorded: %w", info.ID, err)
	}

	logger := log.WithCluster(cl.ClusterID)
	logger.Info().
		Str("name", req.Name).
		Time("expires", cl.ExpirationDate).
		Msg("Cluster provisioning started")
	m.publisher.Publish(&events.Event{
		Kind:    events.KindCreated,
		Cluster: cl,
		ActorID: req.CreatorID,
	})
	return cl, nil
}

// DeleteCluster removes a cluster at its owner's request.
func (m *Manager) DeleteCluster(ctx context.Context, clusterID string, actorID int64) error {
	cl, err := m.store.GetCluster(ctx, clusterID)
	if err != nil {
		return err
	}
	if cl.CreatorID != actorID {
		return ErrNotOwner
	}
	if err := m.removeCluster(ctx, cl); err != nil {
		return err
	}
	m.publisher.Publish(&events.Event{
		Kind:    events.KindDeleted,
		Cluster: cl,
		ActorID: actorID,
	})
	return nil
}

// ReclaimCluster removes an expired cluster on the system's behalf.
func (m *Manager) ReclaimCluster(ctx context.Context, clusterID, note string) error {
	cl, err := m.store.GetCluster(ctx, clusterID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.removeCluster(ctx, cl); err != nil {
		return err
	}
	m.publisher.Publish(&events.Event{
		Kind:    events.KindAutoDeleted,
		Cluster: cl,
		Note:    note,
	})
	return nil
}

func (m *Manager) removeCluster(ctx context.Context, cl *types.Cluster) error {
	if err := m.api.DeleteCluster(ctx, cl.ClusterID); err != nil && !compute.IsNotFound(err) {
		return fmt.Errorf("failed to delete cluster %s: %w", cl.ClusterID, err)
	}
	if _, err := m.store.DeleteCluster(ctx, cl.ClusterID); err != nil {
		return fmt.Errorf("cluster %s deleted but row remains: %w", cl.ClusterID, err)
	}
	logger := log.WithCluster(cl.ClusterID)
	logger.Info().Str("name", cl.ClusterName).Msg("Cluster removed")
	return nil
}

// ExtendCluster pushes the expiry out by days for the owner.
func (m *Manager) ExtendCluster(ctx context.Context, clusterID string, actorID int64, days int) (time.Time, error) {
	cl, err := m.store.GetCluster(ctx, clusterID)
	if err != nil {
		return time.Time{}, err
	}
	if cl.CreatorID != actorID {
		return time.Time{}, ErrNotOwner
	}
	if days <= 0 {
		days = DefaultLeaseDays
	}

	newExp, err := m.store.ExtendClusterExpiration(ctx, clusterID, days)
	if err != nil {
		return time.Time{}, err
	}
	cl.ExpirationDate = newExp

	m.publisher.Publish(&events.Event{
		Kind:         events.KindExtended,
		Cluster:      cl,
		ActorID:      actorID,
		ExtendedDays: days,
		NewExpiry:    newExp,
	})
	return newExp, nil
}

// ListClusters returns the caller's clusters, soonest expiry first.
func (m *Manager) ListClusters(ctx context.Context, creatorID int64) ([]*types.Cluster, error) {
	return m.store.ListClustersByCreator(ctx, creatorID)
}

// ClusterOptions returns what the provider offers for new clusters.
func (m *Manager) ClusterOptions(ctx context.Context) (*compute.ClusterOptions, error) {
	return m.api.GetClusterOptions(ctx)
}
