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

// CreateInstanceRequest describes a droplet lease to create.
type CreateInstanceRequest struct {
	Name            string
	DropletType     string
	ImageSlug       string
	SSHKeyID        int64
	Days            int
	CreatorID       int64
	CreatorUsername string

	// Subdomain and Zone request an A record for the new instance.
	// Both empty means no DNS.
	Subdomain string
	Zone      string
}

// CreateInstance provisions a droplet, waits for its public IP, records the
// lease, and announces it. DNS registration is best-effort: a failure there
// leaves the instance up without a name rather than rolling it back.
func (m *Manager) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*types.Instance, error) {
	if !types.ValidResourceName(req.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, req.Name)
	}
	if req.Subdomain != "" && !types.ValidSubdomain(req.Subdomain) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSubdomain, req.Subdomain)
	}
	days := req.Days
	if days <= 0 {
		days = DefaultLeaseDays
	}

	droplet, err := m.api.CreateDroplet(ctx, compute.DropletCreateRequest{
		Name:      req.Name,
		Size:      req.DropletType,
		ImageSlug: req.ImageSlug,
		SSHKeyID:  req.SSHKeyID,
		Owner:     ownerName(req.CreatorUsername, req.CreatorID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create droplet: %w", err)
	}
	logger := log.WithDroplet(droplet.ID)

	ip, err := m.api.WaitForIP(ctx, droplet.ID)
	if err != nil {
		// The droplet exists; record it without an address instead of
		// leaking it.
		logger.Warn().Err(err).Msg("Droplet has no public IP yet")
	}

	now := time.Now()
	inst := &types.Instance{
		DropletID:      droplet.ID,
		Name:           req.Name,
		IPAddress:      ip,
		DropletType:    req.DropletType,
		ExpirationDate: now.AddDate(0, 0, days),
		SSHKeyID:       req.SSHKeyID,
		CreatorID:      req.CreatorID,
		CreatedAt:      &now,
	}
	if req.CreatorUsername != "" {
		inst.CreatorUsername = &req.CreatorUsername
	}
	if droplet.PriceHourly > 0 {
		price := droplet.PriceHourly
		inst.PriceHourly = &price
	}
	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("droplet %d created but not recorded: %w", droplet.ID, err)
	}

	if err := m.store.RecordSSHKeyUsage(ctx, req.CreatorID, []int64{req.SSHKeyID}); err != nil {
		logger.Warn().Err(err).Msg("Failed to record SSH key preference")
	}

	if req.Subdomain != "" && ip != "" {
		if rec, err := m.api.CreateDNSRecord(ctx, req.Zone, req.Subdomain, ip); err != nil {
			logger.Warn().Err(err).Str("zone", req.Zone).Msg("Failed to create DNS record")
		} else if err := m.store.UpdateInstanceDNS(ctx, droplet.ID, rec.FQDN, rec.ID, rec.Zone); err != nil {
			logger.Warn().Err(err).Msg("Failed to record DNS assignment")
		} else {
			inst.DomainName = &rec.FQDN
			inst.DNSRecordID = &rec.ID
			inst.DNSZone = &rec.Zone
		}
	}

	logger.Info().Str("name", req.Name).Time("expires", inst.ExpirationDate).Msg("Instance created")
	m.publisher.Publish(&events.Event{
		Kind:     events.KindCreated,
		Instance: inst,
		ActorID:  req.CreatorID,
	})
	return inst, nil
}

// DeleteInstance removes an instance at its owner's request.
func (m *Manager) DeleteInstance(ctx context.Context, dropletID, actorID int64) error {
	inst, err := m.store.GetInstance(ctx, dropletID)
	if err != nil {
		return err
	}
	if inst.CreatorID != actorID {
		return ErrNotOwner
	}
	if err := m.removeInstance(ctx, inst); err != nil {
		return err
	}
	m.publisher.Publish(&events.Event{
		Kind:     events.KindDeleted,
		Instance: inst,
		ActorID:  actorID,
	})
	return nil
}

// ReclaimInstance removes an expired instance on the system's behalf. The
// note says why, and travels with the auto_deleted event.
func (m *Manager) ReclaimInstance(ctx context.Context, dropletID int64, note string) error {
	inst, err := m.store.GetInstance(ctx, dropletID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := m.removeInstance(ctx, inst); err != nil {
		return err
	}
	m.publisher.Publish(&events.Event{
		Kind:     events.KindAutoDeleted,
		Instance: inst,
		Note:     note,
	})
	return nil
}

// removeInstance tears down DNS, the droplet, and the row, in that order.
// The row goes last so a crash mid-way leaves the instance tracked.
func (m *Manager) removeInstance(ctx context.Context, inst *types.Instance) error {
	logger := log.WithDroplet(inst.DropletID)

	if inst.DNSRecordID != nil && inst.DNSZone != nil {
		if err := m.api.DeleteDNSRecord(ctx, *inst.DNSZone, *inst.DNSRecordID); err != nil && !compute.IsNotFound(err) {
			logger.Warn().Err(err).Msg("Failed to delete DNS record")
		}
	}

	if err := m.api.DeleteDroplet(ctx, inst.DropletID); err != nil && !compute.IsNotFound(err) {
		return fmt.Errorf("failed to delete droplet %d: %w", inst.DropletID, err)
	}

	if _, err := m.store.DeleteInstance(ctx, inst.DropletID); err != nil {
		return fmt.Errorf("droplet %d deleted but row remains: %w", inst.DropletID, err)
	}
	logger.Info().Str("name", inst.Name).Msg("Instance removed")
	return nil
}

// ExtendInstance pushes the expiry out by days for the owner.
func (m *Manager) ExtendInstance(ctx context.Context, dropletID, actorID int64, days int) (time.Time, error) {
	inst, err := m.store.GetInstance(ctx, dropletID)
	if err != nil {
		return time.Time{}, err
	}
	if inst.CreatorID != actorID {
		return time.Time{}, ErrNotOwner
	}
	if days <= 0 {
		days = DefaultLeaseDays
	}

	newExp, err := m.store.ExtendInstanceExpiration(ctx, dropletID, days)
	if err != nil {
		return time.Time{}, err
	}
	inst.ExpirationDate = newExp

	m.publisher.Publish(&events.Event{
		Kind:         events.KindExtended,
		Instance:     inst,
		ActorID:      actorID,
		ExtendedDays: days,
		NewExpiry:    newExp,
	})
	return newExp, nil
}

// ListInstances returns the caller's instances, soonest expiry first.
func (m *Manager) ListInstances(ctx context.Context, creatorID int64) ([]*types.Instance, error) {
	return m.store.ListInstancesByCreator(ctx, creatorID)
}

// SSHKeysForUser returns the account's SSH keys with the user's most used
// keys first.
func (m *Manager) SSHKeysForUser(ctx context.Context, userID int64) ([]compute.SSHKey, error) {
	keys, err := m.api.ListSSHKeys(ctx)
	if err != nil {
		return nil, err
	}
	preferred, err := m.store.PreferredSSHKeys(ctx, userID)
	if err != nil {
		logger := log.WithComponent("manager")
		logger.Warn().Err(err).Msg("Failed to load SSH key preferences")
		return keys, nil
	}

	rank := make(map[int64]int, len(preferred))
	for i, id := range preferred {
		rank[id] = i + 1
	}
	ordered := make([]compute.SSHKey, 0, len(keys))
	for _, id := range preferred {
		for _, k := range keys {
			if k.ID == id {
				ordered = append(ordered, k)
				break
			}
		}
	}
	for _, k := range keys {
		if rank[k.ID] == 0 {
			ordered = append(ordered, k)
		}
	}
	return ordered, nil
}

func ownerName(username string, id int64) string {
	if username != "" {
		return username
	}
	return fmt.Sprintf("%d", id)
}
