// Package snapshot archives a droplet's disk before it is reclaimed.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/ebb-cloud/ebb/pkg/compute"
	"github.com/ebb-cloud/ebb/pkg/log"
	"github.com/ebb-cloud/ebb/pkg/metrics"
)

// Outcome is the terminal result of a snapshot attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed_out"
)

// ProviderAPI is the slice of the provider surface snapshots need.
type ProviderAPI interface {
	SnapshotDroplet(ctx context.Context, id int64, name string) (int64, error)
	ActionStatus(ctx context.Context, actionID int64) (compute.ActionState, error)
}

// Config bounds how long a snapshot may hold up a reclaim.
type Config struct {
	// PollInterval is how often the provider action is checked.
	PollInterval time.Duration
	// WaitCeiling caps the total wait. A snapshot still running past it
	// is abandoned, not cancelled: the provider finishes it on its own.
	WaitCeiling time.Duration
}

// DefaultConfig matches provider snapshot times for small disks.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		WaitCeiling:  600 * time.Second,
	}
}

// Orchestrator starts snapshots and waits for them within a bounded window.
type Orchestrator struct {
	api   ProviderAPI
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator with the given provider and bounds.
func New(api ProviderAPI, cfg Config) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.WaitCeiling <= 0 {
		cfg.WaitCeiling = DefaultConfig().WaitCeiling
	}
	return &Orchestrator{
		api: api,
		cfg: cfg,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// SnapshotAndWait starts a snapshot of the droplet and polls the resulting
// action until it completes, fails, or the wait ceiling passes. The returned
// error carries provider detail for failed outcomes; a timed out snapshot is
// not an error, the image just is not confirmed yet.
func (o *Orchestrator) SnapshotAndWait(ctx context.Context, dropletID int64, name string) (Outcome, error) {
	logger := log.WithDroplet(dropletID)

	actionID, err := o.api.SnapshotDroplet(ctx, dropletID, name)
	if err != nil {
		metrics.SnapshotsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
		return OutcomeFailed, fmt.Errorf("failed to start snapshot: %w", err)
	}
	logger.Info().Str("snapshot", name).Int64("action_id", actionID).Msg("Snapshot started")

	maxPolls := int(o.cfg.WaitCeiling / o.cfg.PollInterval)
	for poll := 0; poll < maxPolls; poll++ {
		if err := o.sleep(ctx, o.cfg.PollInterval); err != nil {
			return OutcomeTimedOut, err
		}

		state, err := o.api.ActionStatus(ctx, actionID)
		if err != nil {
			// Transient status reads fall under the same ceiling.
			logger.Warn().Err(err).Msg("Snapshot status check failed")
			continue
		}
		switch state {
		case compute.ActionCompleted:
			metrics.SnapshotsTotal.WithLabelValues(string(OutcomeCompleted)).Inc()
			logger.Info().Str("snapshot", name).Msg("Snapshot completed")
			return OutcomeCompleted, nil
		case compute.ActionErrored:
			metrics.SnapshotsTotal.WithLabelValues(string(OutcomeFailed)).Inc()
			return OutcomeFailed, fmt.Errorf("snapshot action %d errored", actionID)
		}
	}

	metrics.SnapshotsTotal.WithLabelValues(string(OutcomeTimedOut)).Inc()
	logger.Warn().Str("snapshot", name).Msg("Snapshot still running past wait ceiling, proceeding")
	return OutcomeTimedOut, nil
}
