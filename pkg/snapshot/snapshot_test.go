package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ebb-cloud/ebb/pkg/compute"
)

type fakeProvider struct {
	startErr error
	actionID int64
	states   []compute.ActionState
	stateErr []error
	polls    int
}

func (f *fakeProvider) SnapshotDroplet(ctx context.Context, id int64, name string) (int64, error) {
	if f.startErr != nil {
		return 0, f.startErr
	}
	return f.actionID, nil
}

func (f *fakeProvider) ActionStatus(ctx context.Context, actionID int64) (compute.ActionState, error) {
	i := f.polls
	f.polls++
	if i < len(f.stateErr) && f.stateErr[i] != nil {
		return "", f.stateErr[i]
	}
	if i >= len(f.states) {
		return compute.ActionInProgress, nil
	}
	return f.states[i], nil
}

func newTestOrchestrator(api ProviderAPI, polls int) *Orchestrator {
	o := New(api, Config{PollInterval: time.Millisecond, WaitCeiling: time.Duration(polls) * time.Millisecond})
	o.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return o
}

func TestSnapshotCompletes(t *testing.T) {
	provider := &fakeProvider{
		actionID: 99,
		states:   []compute.ActionState{compute.ActionInProgress, compute.ActionCompleted},
	}
	o := newTestOrchestrator(provider, 10)

	outcome, err := o.SnapshotAndWait(context.Background(), 1, "box-pre-reclaim")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 2, provider.polls)
}

func TestSnapshotStartFailure(t *testing.T) {
	provider := &fakeProvider{startErr: errors.New("quota exceeded")}
	o := newTestOrchestrator(provider, 10)

	outcome, err := o.SnapshotAndWait(context.Background(), 1, "box-pre-reclaim")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Zero(t, provider.polls, "no polling after a failed start")
}

func TestSnapshotActionErrors(t *testing.T) {
	provider := &fakeProvider{
		actionID: 99,
		states:   []compute.ActionState{compute.ActionErrored},
	}
	o := newTestOrchestrator(provider, 10)

	outcome, err := o.SnapshotAndWait(context.Background(), 1, "box-pre-reclaim")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestSnapshotTimesOut(t *testing.T) {
	provider := &fakeProvider{actionID: 99}
	o := newTestOrchestrator(provider, 4)

	outcome, err := o.SnapshotAndWait(context.Background(), 1, "box-pre-reclaim")
	require.NoError(t, err, "a timed out snapshot does not block the reclaim")
	assert.Equal(t, OutcomeTimedOut, outcome)
	assert.Equal(t, 4, provider.polls)
}

func TestTransientStatusErrorsKeepPolling(t *testing.T) {
	provider := &fakeProvider{
		actionID: 99,
		stateErr: []error{errors.New("transient"), nil},
		states:   []compute.ActionState{"", compute.ActionCompleted},
	}
	o := newTestOrchestrator(provider, 10)

	outcome, err := o.SnapshotAndWait(context.Background(), 1, "box-pre-reclaim")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
}
