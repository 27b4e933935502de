// Package rollout pushes a release artifact to every database node in four
// barrier-separated phases, continuing past per-host failures.
package rollout

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/metrics"
	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/fly-io/clusterops/pkg/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Phase names one step applied to every host.
type Phase string

const (
	PhaseUpload  Phase = "upload"
	PhaseStop    Phase = "stop"
	PhaseRefresh Phase = "refresh"
	PhaseStart   Phase = "start"
)

// Phases is the fixed execution order.
var Phases = []Phase{PhaseUpload, PhaseStop, PhaseRefresh, PhaseStart}

// DefaultRefreshCommand is the on-host program that swaps in a release.
const DefaultRefreshCommand = "/usr/local/bin/stardog-refresh"

// Options configures an Executor.
type Options struct {
	Service        string
	RefreshCommand remote.Command
	// Parallelism bounds the hosts worked on at once within a phase.
	Parallelism int
	// WorkDir receives artifacts fetched from object storage.
	WorkDir string
	// RemoteDir receives the uploaded artifact on each host. It must
	// already exist there; /tmp by default.
	RemoteDir string
}

// DefaultRemoteDir is where hosts receive the artifact.
const DefaultRemoteDir = "/tmp"

// Fetcher downloads s3:// artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dstDir string) (*storage.DownloadResult, error)
}

// Store persists finished rollouts.
type Store interface {
	SaveRollout(ctx context.Context, ro *db.Rollout) error
}

// Executor runs rollouts.
type Executor struct {
	runner  remote.Runner
	opts    Options
	fetcher Fetcher
	store   Store
}

// New creates an Executor. fetcher and store may be nil.
func New(runner remote.Runner, opts Options, fetcher Fetcher, store Store) *Executor {
	if opts.Service == "" {
		opts.Service = "stardog"
	}
	if opts.RefreshCommand.Name == "" {
		opts.RefreshCommand = remote.Command{Name: DefaultRefreshCommand}
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.RemoteDir == "" {
		opts.RemoteDir = DefaultRemoteDir
	}
	return &Executor{runner: runner, opts: opts, fetcher: fetcher, store: store}
}

// Rollout applies artifact to hosts. Host failures land in the report; the
// returned error is reserved for conditions that prevent the rollout from
// starting at all.
func (e *Executor) Rollout(ctx context.Context, deployment string, hosts []string, artifact string) (*Report, error) {
	runID := uuid.NewString()
	timer := metrics.NewTimer()
	slog.Info("rollout_start", "run_id", runID, "deployment", deployment, "hosts", len(hosts), "artifact", artifact, "parallelism", e.opts.Parallelism)

	local, err := e.resolveArtifact(ctx, artifact)
	if err != nil {
		return nil, err
	}

	remotePath := path.Join(e.opts.RemoteDir, filepath.Base(local))

	report := newReport(len(hosts))
	for _, phase := range Phases {
		e.runPhase(ctx, phase, hosts, local, remotePath, report)
	}

	timer.ObserveDuration(metrics.RolloutDuration)
	slog.Info("rollout_complete", "run_id", runID, "failed", report.Failed(), "failures", len(report.Failures()), "duration", timer.Duration())

	e.save(ctx, runID, deployment, artifact, report)
	return report, nil
}

func (e *Executor) resolveArtifact(ctx context.Context, artifact string) (string, error) {
	if !storage.IsURI(artifact) {
		return artifact, nil
	}
	if e.fetcher == nil {
		return "", errors.Fatalf("fetch "+artifact, "no object storage client configured")
	}
	res, err := e.fetcher.Fetch(ctx, artifact, e.opts.WorkDir)
	if err != nil {
		return "", errors.Fatal("fetch "+artifact, err)
	}
	return res.LocalPath, nil
}

// runPhase attempts phase on every host and returns once all have finished.
func (e *Executor) runPhase(ctx context.Context, phase Phase, hosts []string, local, remotePath string, report *Report) {
	slog.Info("rollout_phase_start", "phase", phase, "hosts", len(hosts))

	var g errgroup.Group
	g.SetLimit(e.opts.Parallelism)
	for _, host := range hosts {
		g.Go(func() error {
			res := e.apply(ctx, phase, host, local, remotePath)
			if res.Success() {
				metrics.RolloutPhaseResults.WithLabelValues(string(phase), "success").Inc()
				return nil
			}
			metrics.RolloutPhaseResults.WithLabelValues(string(phase), "failure").Inc()
			slog.Warn("rollout_host_failed", "phase", phase, "host", host, "exit_code", res.ExitCode)
			report.add(phase, res)
			return nil
		})
	}
	g.Wait()

	slog.Info("rollout_phase_complete", "phase", phase)
}

// apply runs one phase on host. The artifact is copied from local to
// remotePath, and every later phase refers to remotePath.
func (e *Executor) apply(ctx context.Context, phase Phase, host, local, remotePath string) remote.Result {
	switch phase {
	case PhaseUpload:
		return e.runner.Upload(ctx, host, local, remotePath)
	case PhaseStop:
		return e.runner.Run(ctx, remote.StopCommand(e.opts.Service).On(host))
	case PhaseRefresh:
		return e.runner.Run(ctx, remote.RefreshCommand(e.opts.RefreshCommand, remotePath).On(host))
	default:
		return e.runner.Run(ctx, remote.StartCommand(e.opts.Service).On(host))
	}
}

func (e *Executor) save(ctx context.Context, runID, deployment, artifact string, report *Report) {
	if e.store == nil {
		return
	}

	ro := &db.Rollout{
		RunID:      runID,
		Deployment: deployment,
		Artifact:   artifact,
		HostCount:  report.Hosts(),
		Status:     db.RolloutSucceeded,
	}
	if report.Failed() {
		ro.Status = db.RolloutFailed
	}
	for _, f := range report.Failures() {
		ro.Failures = append(ro.Failures, db.RolloutFailure{
			Phase:    string(f.Phase),
			Host:     f.Result.Host,
			Command:  f.Result.Description,
			ExitCode: f.Result.ExitCode,
			Stdout:   string(f.Result.Stdout),
			Stderr:   string(f.Result.Stderr),
		})
	}

	// The report is the result; losing its record is only logged.
	if err := e.store.SaveRollout(ctx, ro); err != nil {
		slog.Error("rollout_save_failed", "run_id", runID, "error", err)
	}
}
