// Package attach finds an available tagged volume and attaches it to this
// instance, re-entering the search on any failure until the outer retry
// budget runs out.
package attach

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/retry"
)

// State is a step of one attach attempt.
type State string

const (
	StateSearching             State = "searching"
	StateAttaching             State = "attaching"
	StateAwaitingDevice        State = "awaiting_device"
	StateAwaitingProviderReady State = "awaiting_provider_ready"
	StateDone                  State = "done"
)

// Policies holds the three retry budgets of an attach.
type Policies struct {
	Outer         retry.Policy
	Device        retry.Policy
	ProviderReady retry.Policy
}

// DefaultPolicies returns the budgets used in production.
func DefaultPolicies() Policies {
	return Policies{
		Outer:         retry.Policy{MaxAttempts: 10, MaxBackoff: 5 * time.Second},
		Device:        retry.Policy{MaxAttempts: 10, MaxBackoff: 10 * time.Second},
		ProviderReady: retry.Policy{MaxAttempts: 3, MaxBackoff: 5 * time.Second},
	}
}

// Request names what to attach where.
type Request struct {
	Deployment string
	Zone       string
	Device     string
	InstanceID string
}

// Result describes a finished attach.
type Result struct {
	VolumeID string
	Device   string
	Attempts int
	// Trail lists the states visited by the successful attempt.
	Trail []State
}

// Attacher runs the attach state machine.
type Attacher struct {
	inv      cloud.Inventory
	poller   *retry.Poller
	policies Policies

	// Stat reports whether a device node exists. Defaults to os.Stat.
	Stat func(path string) bool
}

// New creates an Attacher. A nil poller uses real sleeps.
func New(inv cloud.Inventory, poller *retry.Poller, policies Policies) *Attacher {
	if poller == nil {
		poller = retry.New()
	}
	return &Attacher{
		inv:      inv,
		poller:   poller,
		policies: policies,
		Stat:     DeviceExists,
	}
}

// attempt is the bookkeeping of one pass through the states.
type attempt struct {
	volumeID string
	trail    []State
}

func (a *attempt) enter(s State) {
	a.trail = append(a.trail, s)
}

// Attempt runs one pass SEARCHING -> DONE. Any failure is transient: the
// caller re-enters SEARCHING.
func (at *Attacher) Attempt(ctx context.Context, req Request) (Result, retry.Outcome) {
	var a attempt

	a.enter(StateSearching)
	volumeID, ok := at.inv.FindAvailableVolume(ctx, req.Deployment, req.Zone)
	if !ok {
		return at.result(&a, req), retry.Retry(fmt.Errorf("no available volume tagged %s", req.Deployment))
	}
	a.volumeID = volumeID
	slog.Debug("attach_volume_selected", "deployment", req.Deployment, "volume_id", volumeID)

	a.enter(StateAttaching)
	if !at.inv.AttachVolume(ctx, volumeID, req.Device, req.InstanceID) {
		// Another node may have won the race for this volume.
		slog.Warn("attach_volume_rejected", "volume_id", volumeID, "device", req.Device)
		return at.result(&a, req), retry.Retry(fmt.Errorf("attach of %s rejected", volumeID))
	}
	slog.Info("attach_volume_requested", "volume_id", volumeID, "device", req.Device, "instance_id", req.InstanceID)

	a.enter(StateAwaitingDevice)
	ok = at.poller.Poll(ctx, at.policies.Device, func(context.Context) bool {
		slog.Info("attach_check_device", "device", req.Device)
		return at.Stat(req.Device)
	})
	if !ok {
		return at.result(&a, req), retry.Retry(fmt.Errorf("device %s did not appear", req.Device))
	}

	a.enter(StateAwaitingProviderReady)
	ok = at.poller.Poll(ctx, at.policies.ProviderReady, func(ctx context.Context) bool {
		state, found := at.inv.VolumeState(ctx, volumeID)
		slog.Debug("attach_check_volume_state", "volume_id", volumeID, "state", state)
		return found && state == cloud.VolumeInUse
	})
	if !ok {
		return at.result(&a, req), retry.Retry(fmt.Errorf("volume %s never reported %s", volumeID, cloud.VolumeInUse))
	}

	a.enter(StateDone)
	return at.result(&a, req), retry.Succeeded()
}

// Attach wraps Attempt in the outer poll. Exhaustion is fatal.
func (at *Attacher) Attach(ctx context.Context, req Request) (Result, error) {
	slog.Info("attach_start", "deployment", req.Deployment, "device", req.Device, "instance_id", req.InstanceID)

	var last Result
	attempts := 0
	err := at.poller.PollOutcome(ctx, at.policies.Outer, func(ctx context.Context) retry.Outcome {
		attempts++
		res, out := at.Attempt(ctx, req)
		last = res
		if out.Kind != retry.OutcomeSuccess {
			slog.Warn("attach_attempt_failed", "attempt", attempts, "state", res.lastState(), "error", out.Err)
		}
		return out
	})
	last.Attempts = attempts

	if err != nil {
		slog.Error("attach_failed", "deployment", req.Deployment, "device", req.Device, "attempts", attempts, "error", err)
		return last, errors.Fatal(fmt.Sprintf("attach volume for deployment %s on %s", req.Deployment, req.Device), err)
	}

	slog.Info("attach_complete", "volume_id", last.VolumeID, "device", req.Device, "attempts", attempts)
	return last, nil
}

func (at *Attacher) result(a *attempt, req Request) Result {
	return Result{VolumeID: a.volumeID, Device: req.Device, Trail: a.trail}
}

func (r Result) lastState() State {
	if len(r.Trail) == 0 {
		return ""
	}
	return r.Trail[len(r.Trail)-1]
}

// DeviceExists reports whether a device node is present.
func DeviceExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
