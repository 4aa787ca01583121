package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ebb-cloud/ebb/pkg/types"
)

// GormStore implements Store on a SQL database through gorm. Production runs
// on Postgres; tests run the same code on an in-memory SQLite database.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema. Migration is
// additive-only: new nullable columns appear, nothing is dropped.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an existing gorm connection and migrates the schema.
func NewWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&types.Instance{}, &types.SSHKeyUsage{}, &types.Cluster{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Instance operations

func (s *GormStore) CreateInstance(ctx context.Context, inst *types.Instance) error {
	return s.db.WithContext(ctx).Create(inst).Error
}

func (s *GormStore) GetInstance(ctx context.Context, dropletID int64) (*types.Instance, error) {
	var inst types.Instance
	err := s.db.WithContext(ctx).First(&inst, "droplet_id = ?", dropletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *GormStore) DeleteInstance(ctx context.Context, dropletID int64) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&types.Instance{}, "droplet_id = ?", dropletID)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) ListInstancesByCreator(ctx context.Context, creatorID int64) ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("expiration_date asc").
		Find(&instances).Error
	return instances, err
}

func (s *GormStore) ListInstancesExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.WithContext(ctx).
		Where("expiration_date > ? AND expiration_date <= ?", now, now.Add(window)).
		Order("expiration_date asc").
		Find(&instances).Error
	return instances, err
}

func (s *GormStore) ListInstancesExpiredBefore(ctx context.Context, now time.Time) ([]*types.Instance, error) {
	var instances []*types.Instance
	err := s.db.WithContext(ctx).
		Where("expiration_date <= ?", now).
		Order("expiration_date asc").
		Find(&instances).Error
	return instances, err
}

func (s *GormStore) ExtendInstanceExpiration(ctx context.Context, dropletID int64, days int) (time.Time, error) {
	// Compare-and-swap on the previous expiry value instead of a row lock:
	// works on every dialect and loses nothing, since a concurrent extension
	// simply forces one re-read.
	for attempt := 0; attempt < 3; attempt++ {
		inst, err := s.GetInstance(ctx, dropletID)
		if err != nil {
			return time.Time{}, err
		}
		newExp := extendedExpiry(inst.ExpirationDate, days)
		res := s.db.WithContext(ctx).Model(&types.Instance{}).
			Where("droplet_id = ? AND expiration_date = ?", dropletID, inst.ExpirationDate).
			Update("expiration_date", newExp)
		if res.Error != nil {
			return time.Time{}, res.Error
		}
		if res.RowsAffected > 0 {
			return newExp, nil
		}
	}
	return time.Time{}, errors.New("expiry changed concurrently, gave up extending")
}

func (s *GormStore) UpdateInstanceDNS(ctx context.Context, dropletID int64, domainName string, recordID int64, zone string) error {
	return s.db.WithContext(ctx).Model(&types.Instance{}).
		Where("droplet_id = ?", dropletID).
		Updates(map[string]interface{}{
			"domain_name":   domainName,
			"dns_record_id": recordID,
			"dns_zone":      zone,
		}).Error
}

// SSH key preference operations

func (s *GormStore) RecordSSHKeyUsage(ctx context.Context, userID int64, keyIDs []int64) error {
	for _, keyID := range keyIDs {
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "key_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"count": gorm.Expr("count + 1")}),
		}).Create(&types.SSHKeyUsage{UserID: userID, KeyID: keyID, Count: 1}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *GormStore) PreferredSSHKeys(ctx context.Context, userID int64) ([]int64, error) {
	var keyIDs []int64
	err := s.db.WithContext(ctx).Model(&types.SSHKeyUsage{}).
		Where("user_id = ?", userID).
		Order("count desc, key_id asc").
		Pluck("key_id", &keyIDs).Error
	return keyIDs, err
}

// Cluster operations

func (s *GormStore) CreateCluster(ctx context.Context, cl *types.Cluster) error {
	return s.db.WithContext(ctx).Create(cl).Error
}

func (s *GormStore) GetCluster(ctx context.Context, clusterID string) (*types.Cluster, error) {
	var cl types.Cluster
	err := s.db.WithContext(ctx).First(&cl, "cluster_id = ?", clusterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (s *GormStore) GetClusterByName(ctx context.Context, name string, creatorID int64) (*types.Cluster, error) {
	var cl types.Cluster
	err := s.db.WithContext(ctx).
		First(&cl, "cluster_name = ? AND creator_id = ?", name, creatorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cl, nil
}

func (s *GormStore) DeleteCluster(ctx context.Context, clusterID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&types.Cluster{}, "cluster_id = ?", clusterID)
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) ListClustersByCreator(ctx context.Context, creatorID int64) ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.WithContext(ctx).
		Where("creator_id = ?", creatorID).
		Order("expiration_date asc").
		Find(&clusters).Error
	return clusters, err
}

func (s *GormStore) ListClustersExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.WithContext(ctx).
		Where("expiration_date > ? AND expiration_date <= ?", now, now.Add(window)).
		Order("expiration_date asc").
		Find(&clusters).Error
	return clusters, err
}

func (s *GormStore) ListClustersExpiredBefore(ctx context.Context, now time.Time) ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.WithContext(ctx).
		Where("expiration_date <= ? AND status <> ?", now, types.ClusterErrored).
		Order("expiration_date asc").
		Find(&clusters).Error
	return clusters, err
}

func (s *GormStore) ListProvisioningClusters(ctx context.Context) ([]*types.Cluster, error) {
	var clusters []*types.Cluster
	err := s.db.WithContext(ctx).
		Where("status = ?", types.ClusterProvisioning).
		Find(&clusters).Error
	return clusters, err
}

func (s *GormStore) TransitionClusterStatus(ctx context.Context, clusterID string, status types.ClusterStatus, endpoint string) (bool, error) {
	if !types.ClusterProvisioning.CanTransition(status) {
		return false, fmt.Errorf("illegal cluster status transition to %q", status)
	}
	res := s.db.WithContext(ctx).Model(&types.Cluster{}).
		Where("cluster_id = ? AND status = ?", clusterID, types.ClusterProvisioning).
		Updates(map[string]interface{}{"status": status, "endpoint": endpoint})
	return res.RowsAffected > 0, res.Error
}

func (s *GormStore) ExtendClusterExpiration(ctx context.Context, clusterID string, days int) (time.Time, error) {
	for attempt := 0; attempt < 3; attempt++ {
		cl, err := s.GetCluster(ctx, clusterID)
		if err != nil {
			return time.Time{}, err
		}
		newExp := extendedExpiry(cl.ExpirationDate, days)
		res := s.db.WithContext(ctx).Model(&types.Cluster{}).
			Where("cluster_id = ? AND expiration_date = ?", clusterID, cl.ExpirationDate).
			Update("expiration_date", newExp)
		if res.Error != nil {
			return time.Time{}, res.Error
		}
		if res.RowsAffected > 0 {
			return newExp, nil
		}
	}
	return time.Time{}, errors.New("expiry changed concurrently, gave up extending")
}

// Inventory counts

func (s *GormStore) CountInstances(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&types.Instance{}).Count(&count).Error
	return count, err
}

func (s *GormStore) CountClustersByStatus(ctx context.Context) (map[types.ClusterStatus]int64, error) {
	type row struct {
		Status types.ClusterStatus
		Total  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&types.Cluster{}).
		Select("status, count(*) as total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[types.ClusterStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

// extendedExpiry implements the lease rule: the new expiry counts from the
// current expiry or from now, whichever is later. Extending an already
// expired lease therefore restarts it from now.
func extendedExpiry(current time.Time, days int) time.Time {
	base := current
	if now := time.Now(); now.After(base) {
		base = now
	}
	return base.AddDate(0, 0, days)
}
