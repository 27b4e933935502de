package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fly-io/clusterops/pkg/attach"
	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/mount"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingAttacher never finishes on its own, standing in for a process
// that is stopped mid-attach.
type blockingAttacher struct {
	started chan struct{}
}

func (b *blockingAttacher) Attach(ctx context.Context, _ attach.Request) (attach.Result, error) {
	close(b.started)
	<-ctx.Done()
	return attach.Result{}, ctx.Err()
}

func newRepo(t *testing.T) *db.Repository {
	t.Helper()
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "clusterops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newRunMachine(repo *db.Repository, a Attacher, maxRetries int) *Machine {
	m := NewMachine(repo, a, &fakeMounter{target: mount.Target{Formatted: true}}, maxRetries)
	m.DeviceExists = func(string) bool { return false }
	return m
}

func runCtx(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

func TestRun_FreshNode(t *testing.T) {
	repo := newRepo(t)
	a := &fakeAttacher{res: attach.Result{VolumeID: "vol-1", Attempts: 1}}

	resp, err := Run(runCtx(t, 30*time.Second), t.TempDir(), newRunMachine(repo, a, 3), node)
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, resp.Status)
	assert.Equal(t, "vol-1", resp.VolumeID)
	assert.True(t, resp.Formatted)
	assert.Equal(t, 1, a.calls)

	rec, err := repo.GetBootstrap(node.Deployment, node.InstanceID, node.Device)
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, rec.Status)
	assert.Equal(t, "vol-1", rec.VolumeID)
}

func TestRun_SecondRunOnSameDir(t *testing.T) {
	repo := newRepo(t)
	fsmDir := t.TempDir()
	a := &fakeAttacher{res: attach.Result{VolumeID: "vol-1"}}

	_, err := Run(runCtx(t, 30*time.Second), fsmDir, newRunMachine(repo, a, 3), node)
	require.NoError(t, err)

	again := node
	again.RunID = "run-2"
	resp, err := Run(runCtx(t, 30*time.Second), fsmDir, newRunMachine(repo, a, 3), again)
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, resp.Status)
	assert.Equal(t, 2, a.calls)
}

func TestRun_FatalAttachAborts(t *testing.T) {
	repo := newRepo(t)
	a := &fakeAttacher{err: errors.Fatalf("attach", "no volume tagged %s in %s", "prod", "us-east-1a")}

	resp, err := Run(runCtx(t, 30*time.Second), t.TempDir(), newRunMachine(repo, a, 3), node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no volume tagged")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, db.StatusFailed, resp.Status)

	rec, err := repo.GetBootstrap(node.Deployment, node.InstanceID, node.Device)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "no volume tagged")
}

func TestRun_RetriesExhausted(t *testing.T) {
	repo := newRepo(t)
	a := &fakeAttacher{err: fmt.Errorf("request throttled")}

	_, err := Run(runCtx(t, 30*time.Second), t.TempDir(), newRunMachine(repo, a, 2), node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (2) exceeded in attach")
	assert.Equal(t, 2, a.calls)

	rec, err := repo.GetBootstrap(node.Deployment, node.InstanceID, node.Device)
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "max retries")
}

func TestRun_ResumesInterruptedRun(t *testing.T) {
	repo := newRepo(t)
	fsmDir := t.TempDir()

	stuck := &blockingAttacher{started: make(chan struct{})}
	_, err := Run(runCtx(t, time.Second), fsmDir, newRunMachine(repo, stuck, 3), node)
	require.Error(t, err)
	<-stuck.started

	rec, err := repo.GetBootstrap(node.Deployment, node.InstanceID, node.Device)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, db.StatusPending, rec.Status)

	a := &fakeAttacher{res: attach.Result{VolumeID: "vol-2"}}
	resp, err := Run(runCtx(t, 30*time.Second), fsmDir, newRunMachine(repo, a, 3), node)
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, resp.Status)
	assert.Equal(t, "vol-2", resp.VolumeID)
	assert.Equal(t, rec.ID, resp.BootstrapID)

	rec, err = repo.GetBootstrap(node.Deployment, node.InstanceID, node.Device)
	require.NoError(t, err)
	assert.Equal(t, db.StatusReady, rec.Status)
	assert.Equal(t, "vol-2", rec.VolumeID)
}

func TestRun_ResumedRunFails(t *testing.T) {
	repo := newRepo(t)
	fsmDir := t.TempDir()

	stuck := &blockingAttacher{started: make(chan struct{})}
	_, err := Run(runCtx(t, time.Second), fsmDir, newRunMachine(repo, stuck, 3), node)
	require.Error(t, err)

	a := &fakeAttacher{err: errors.Fatal("attach", fmt.Errorf("volume vol-9 is in use"))}
	resp, err := Run(runCtx(t, 30*time.Second), fsmDir, newRunMachine(repo, a, 3), node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
	assert.Equal(t, db.StatusFailed, resp.Status)
}
