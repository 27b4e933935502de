package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/superfly/fsm"
)

// ShutdownTimeout bounds how long the manager waits for in-flight transitions.
const ShutdownTimeout = 10 * time.Second

// RunID identifies a workflow run for one device on one instance.
func RunID(req NodeRequest) string {
	return req.Deployment + "/" + req.InstanceID + "/" + req.Device
}

// Run executes the workflow for req on a manager persisted under fsmDir and
// blocks until it finishes. A run left active by an interrupted process is
// resumed first; if it is still going when req is started, Run waits for it
// instead of starting a second one.
func Run(ctx context.Context, fsmDir string, m *Machine, req NodeRequest) (*NodeResponse, error) {
	manager, err := fsm.New(fsm.Config{DBPath: fsmDir})
	if err != nil {
		return nil, errors.Wrap(err, "FSM manager failed")
	}
	defer manager.Shutdown(ShutdownTimeout)

	start, resume, err := m.Register(ctx, manager)
	if err != nil {
		return nil, err
	}
	if err := resume(ctx); err != nil {
		return nil, errors.Wrap(err, "FSM resume failed")
	}

	resp := &NodeResponse{}
	version, err := start(ctx, RunID(req), fsm.NewRequest(&req, resp))
	var running *fsm.AlreadyRunningError
	switch {
	case stderrors.As(err, &running):
		slog.Info("fsm_already_running", "run_id", RunID(req), "version", running.Version.String())
		return m.waitResumed(ctx, manager, req)
	case err != nil:
		return nil, errors.Wrap(err, "FSM start failed")
	}
	slog.Info("fsm_started", "run_id", req.RunID, "version", version)

	if err := manager.Wait(ctx, version); err != nil {
		return resp, errors.Wrap(err, "bootstrap failed")
	}
	return resp, nil
}

// waitResumed waits on a run started by an earlier process. Its response
// lives in that run, so the result is read back from the bootstrap record.
func (m *Machine) waitResumed(ctx context.Context, manager *fsm.Manager, req NodeRequest) (*NodeResponse, error) {
	waitErr := manager.WaitByID(ctx, RunID(req))

	rec, err := m.store.GetBootstrap(req.Deployment, req.InstanceID, req.Device)
	if err != nil {
		return nil, errors.Wrap(err, "database error")
	}
	resp := &NodeResponse{}
	if rec != nil {
		resp.BootstrapID = rec.ID
		resp.VolumeID = rec.VolumeID
		resp.Formatted = rec.Formatted
		resp.Status = rec.Status
		resp.ErrorMessage = rec.ErrorMessage
	}

	switch {
	case waitErr != nil:
		return resp, errors.Wrap(waitErr, "bootstrap failed")
	case rec == nil:
		return resp, fmt.Errorf("bootstrap failed: no record for %s", RunID(req))
	case rec.Status == db.StatusFailed:
		return resp, fmt.Errorf("bootstrap failed: %s", rec.ErrorMessage)
	}
	return resp, nil
}
