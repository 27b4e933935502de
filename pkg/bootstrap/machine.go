// Package bootstrap implements the node bootstrap workflow. It records the
// run in the database, attaches a tagged volume and mounts it, using the
// superfly/fsm library so an interrupted run can be resumed.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/clusterops/pkg/attach"
	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/metrics"
	"github.com/fly-io/clusterops/pkg/mount"
	"github.com/superfly/fsm"
)

// Store is the subset of db.Repository the workflow needs.
type Store interface {
	GetBootstrap(deployment, instanceID, device string) (*db.Bootstrap, error)
	CreateBootstrap(b *db.Bootstrap) error
	UpdateBootstrap(b *db.Bootstrap) error
	UpdateBootstrapStatus(id int64, status, errorMessage string) error
}

// Attacher attaches a volume to this instance.
type Attacher interface {
	Attach(ctx context.Context, req attach.Request) (attach.Result, error)
}

// Mounter makes a device usable at a mount point.
type Mounter interface {
	EnsureMounted(ctx context.Context, device, mountPoint string) (mount.Target, error)
}

// Machine holds dependencies for workflow transitions
type Machine struct {
	store      Store
	attacher   Attacher
	mounter    Mounter
	maxRetries int

	// DeviceExists reports whether the device node is present. A present
	// node means the volume is already attached.
	DeviceExists func(path string) bool
}

// NewMachine creates a new workflow machine with dependencies
func NewMachine(store Store, attacher Attacher, mounter Mounter, maxRetries int) *Machine {
	return &Machine{
		store:        store,
		attacher:     attacher,
		mounter:      mounter,
		maxRetries:   maxRetries,
		DeviceExists: attach.DeviceExists,
	}
}

// Register registers the node bootstrap workflow
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[NodeRequest, NodeResponse], fsm.Resume, error) {
	start, resume, err := fsm.Register[NodeRequest, NodeResponse](manager, WorkflowName).
		Start(StateCheck, m.transition(StateCheck, m.check)).
		To(StateAttach, m.transition(StateAttach, m.attach)).
		To(StateMount, m.transition(StateMount, m.mount)).
		To(StateComplete, m.transition(StateComplete, m.complete)).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to register FSM")
	}

	return start, resume, nil
}

type step func(ctx context.Context, req *NodeRequest, resp *NodeResponse) error

// transition adapts a step to an fsm handler. Fatal step errors and
// exhausted retries abort the run; anything else is returned so the
// manager retries the state.
func (m *Machine) transition(state string, fn step) func(context.Context, *fsm.Request[NodeRequest, NodeResponse]) (*fsm.Response[NodeResponse], error) {
	return func(ctx context.Context, req *fsm.Request[NodeRequest, NodeResponse]) (*fsm.Response[NodeResponse], error) {
		slog.Info("fsm_state_"+state, "deployment", req.Msg.Deployment, "instance_id", req.Msg.InstanceID, "device", req.Msg.Device)

		resp := req.W.Msg
		if resp == nil {
			resp = &NodeResponse{}
		}

		if retryCount := fsm.RetryFromContext(ctx); retryCount >= uint64(m.maxRetries) {
			slog.Error("max_retries_exceeded", "state", state, "max_retries", m.maxRetries)
			err := fmt.Errorf("max retries (%d) exceeded in %s", m.maxRetries, state)
			m.fail(resp, err)
			return nil, fsm.Abort(err)
		}

		if err := fn(ctx, req.Msg, resp); err != nil {
			if errors.IsFatal(err) {
				m.fail(resp, err)
				return nil, fsm.Abort(err)
			}
			slog.Warn("fsm_state_retry", "state", state, "error", err)
			return nil, err
		}
		return fsm.NewResponse(resp), nil
	}
}

// check loads or creates the bootstrap record and decides whether the
// attach state has anything to do.
func (m *Machine) check(ctx context.Context, req *NodeRequest, resp *NodeResponse) error {
	rec, err := m.store.GetBootstrap(req.Deployment, req.InstanceID, req.Device)
	if err != nil {
		return errors.Wrap(err, "database error")
	}

	if rec == nil {
		rec = &db.Bootstrap{
			RunID:      req.RunID,
			Deployment: req.Deployment,
			InstanceID: req.InstanceID,
			Device:     req.Device,
			MountPoint: req.MountPoint,
			Status:     db.StatusPending,
		}
		if err := m.store.CreateBootstrap(rec); err != nil {
			return errors.Wrap(err, "failed to create bootstrap record")
		}
	} else {
		slog.Info("bootstrap_record_found", "bootstrap_id", rec.ID, "status", rec.Status, "previous_run_id", rec.RunID)
		rec.RunID = req.RunID
		rec.MountPoint = req.MountPoint
		rec.Status = db.StatusPending
		rec.ErrorMessage = ""
		if err := m.store.UpdateBootstrap(rec); err != nil {
			return errors.Wrap(err, "failed to reset bootstrap record")
		}
		resp.VolumeID = rec.VolumeID
	}

	resp.BootstrapID = rec.ID
	resp.Status = db.StatusPending
	resp.SkippedAttach = m.DeviceExists(req.Device)
	if resp.SkippedAttach {
		slog.Info("bootstrap_device_present", "device", req.Device, "bootstrap_id", rec.ID)
	}
	return nil
}

func (m *Machine) attach(ctx context.Context, req *NodeRequest, resp *NodeResponse) error {
	if resp.SkippedAttach {
		slog.Info("bootstrap_attach_skipped", "device", req.Device)
		return nil
	}

	res, err := m.attacher.Attach(ctx, attach.Request{
		Deployment: req.Deployment,
		Zone:       req.Zone,
		Device:     req.Device,
		InstanceID: req.InstanceID,
	})
	if err != nil {
		return err
	}

	resp.VolumeID = res.VolumeID
	resp.Attempts = res.Attempts
	resp.Status = db.StatusAttached
	if err := m.store.UpdateBootstrapStatus(resp.BootstrapID, db.StatusAttached, ""); err != nil {
		slog.Warn("bootstrap_status_update_failed", "bootstrap_id", resp.BootstrapID, "error", err)
	}
	return nil
}

func (m *Machine) mount(ctx context.Context, req *NodeRequest, resp *NodeResponse) error {
	target, err := m.mounter.EnsureMounted(ctx, req.Device, req.MountPoint)
	if err != nil {
		return err
	}
	resp.Formatted = target.Formatted
	if target.Formatted {
		metrics.VolumesFormatted.Inc()
	}
	return nil
}

func (m *Machine) complete(ctx context.Context, req *NodeRequest, resp *NodeResponse) error {
	rec := &db.Bootstrap{
		ID:         resp.BootstrapID,
		RunID:      req.RunID,
		MountPoint: req.MountPoint,
		VolumeID:   resp.VolumeID,
		Formatted:  resp.Formatted,
		Status:     db.StatusReady,
	}
	if err := m.store.UpdateBootstrap(rec); err != nil {
		return errors.Wrap(err, "failed to mark bootstrap ready")
	}

	resp.Status = db.StatusReady
	metrics.BootstrapsTotal.WithLabelValues(db.StatusReady).Inc()
	slog.Info("bootstrap_complete", "bootstrap_id", resp.BootstrapID, "volume_id", resp.VolumeID, "formatted", resp.Formatted)
	return nil
}

// fail records a terminal failure. The workflow error is what the caller
// sees, so a failed status update is only logged.
func (m *Machine) fail(resp *NodeResponse, cause error) {
	resp.Status = db.StatusFailed
	resp.ErrorMessage = cause.Error()
	metrics.BootstrapsTotal.WithLabelValues(db.StatusFailed).Inc()

	if resp.BootstrapID == 0 {
		return
	}
	if err := m.store.UpdateBootstrapStatus(resp.BootstrapID, db.StatusFailed, cause.Error()); err != nil {
		slog.Error("bootstrap_status_update_failed", "bootstrap_id", resp.BootstrapID, "error", err)
	}
}
