package attach

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInventory scripts volume availability per FindAvailableVolume call.
type fakeInventory struct {
	mu sync.Mutex

	availableOnCall int
	findCalls       int
	rejectAttaches  int
	attachCalls     int
	states          []cloud.VolumeState
	stateCalls      int
}

func (f *fakeInventory) FindAvailableVolume(context.Context, string, string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.findCalls++
	if f.availableOnCall == 0 || f.findCalls < f.availableOnCall {
		return "", false
	}
	return "vol-0abc", true
}

func (f *fakeInventory) VolumeState(context.Context, string) (cloud.VolumeState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if len(f.states) == 0 {
		return cloud.VolumeInUse, true
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return s, true
}

func (f *fakeInventory) AttachVolume(context.Context, string, string, string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attachCalls++
	if f.rejectAttaches > 0 {
		f.rejectAttaches--
		return false
	}
	return true
}

func (f *fakeInventory) ListInstanceIDs(context.Context, string, int) []string       { return nil }
func (f *fakeInventory) ListCoordinatorInstanceIDs(context.Context, string) []string { return nil }
func (f *fakeInventory) ResolvePrivateIPs(context.Context, []string) []string        { return nil }
func (f *fakeInventory) Nodes(context.Context, []string) []cloud.Node                { return nil }

func noSleepPoller(sleeps *int) *retry.Poller {
	return &retry.Poller{
		Sleep: func(context.Context, time.Duration) error {
			if sleeps != nil {
				*sleeps++
			}
			return nil
		},
		Jitter: func(time.Duration) time.Duration { return 0 },
	}
}

var req = Request{Deployment: "prod", Device: "/dev/xvdh", InstanceID: "i-1"}

func TestAttach_VolumeAvailableOnThirdPoll(t *testing.T) {
	inv := &fakeInventory{availableOnCall: 3}
	at := New(inv, noSleepPoller(nil), DefaultPolicies())
	at.Stat = func(string) bool { return true }

	res, err := at.Attach(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "vol-0abc", res.VolumeID)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 1, inv.attachCalls)
	assert.Equal(t, []State{
		StateSearching, StateAttaching, StateAwaitingDevice, StateAwaitingProviderReady, StateDone,
	}, res.Trail)
}

func TestAttach_NeverAvailableIsFatal(t *testing.T) {
	inv := &fakeInventory{}
	sleeps := 0
	at := New(inv, noSleepPoller(&sleeps), DefaultPolicies())

	_, err := at.Attach(context.Background(), req)
	require.Error(t, err)

	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Contains(t, err.Error(), "prod")
	assert.Contains(t, err.Error(), "/dev/xvdh")
	assert.Equal(t, 10, inv.findCalls)
	assert.Equal(t, 9, sleeps)
	assert.Zero(t, inv.attachCalls)
}

func TestAttach_RejectedAttachReentersSearch(t *testing.T) {
	inv := &fakeInventory{availableOnCall: 1, rejectAttaches: 2}
	at := New(inv, noSleepPoller(nil), DefaultPolicies())
	at.Stat = func(string) bool { return true }

	res, err := at.Attach(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, inv.findCalls)
	assert.Equal(t, 3, inv.attachCalls)
	assert.Equal(t, 3, res.Attempts)
}

func TestAttempt_DeviceNeverAppears(t *testing.T) {
	inv := &fakeInventory{availableOnCall: 1}
	at := New(inv, noSleepPoller(nil), DefaultPolicies())
	stats := 0
	at.Stat = func(string) bool { stats++; return false }

	res, out := at.Attempt(context.Background(), req)
	assert.Equal(t, retry.OutcomeTransient, out.Kind)
	assert.Equal(t, StateAwaitingDevice, res.lastState())
	assert.Equal(t, 10, stats)
	assert.Zero(t, inv.stateCalls)
}

func TestAttempt_ProviderNotReadyIsTransient(t *testing.T) {
	inv := &fakeInventory{availableOnCall: 1, states: []cloud.VolumeState{cloud.VolumeAttaching}}
	at := New(inv, noSleepPoller(nil), DefaultPolicies())
	at.Stat = func(string) bool { return true }

	res, out := at.Attempt(context.Background(), req)
	assert.Equal(t, retry.OutcomeTransient, out.Kind)
	assert.Equal(t, StateAwaitingProviderReady, res.lastState())
	assert.Equal(t, 3, inv.stateCalls)
}

func TestAttempt_ProviderReadyAfterAttaching(t *testing.T) {
	inv := &fakeInventory{availableOnCall: 1, states: []cloud.VolumeState{cloud.VolumeAttaching, cloud.VolumeInUse}}
	at := New(inv, noSleepPoller(nil), DefaultPolicies())
	at.Stat = func(string) bool { return true }

	res, out := at.Attempt(context.Background(), req)
	assert.Equal(t, retry.OutcomeSuccess, out.Kind)
	assert.Equal(t, StateDone, res.lastState())
	assert.Equal(t, 2, inv.stateCalls)
}

func TestAttach_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inv := &fakeInventory{availableOnCall: 1}
	at := New(inv, noSleepPoller(nil), DefaultPolicies())

	_, err := at.Attach(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, inv.findCalls)
}
