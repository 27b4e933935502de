package rollout

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/fly-io/clusterops/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// call records one runner invocation as "phase host".
type call struct {
	kind string
	host string
	line string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	// fail maps "kind host" to an exit code.
	fail map[string]int

	inflight    atomic.Int32
	maxInflight atomic.Int32
	delay       time.Duration
}

func (f *fakeRunner) record(kind, host, line, desc string) remote.Result {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{kind: kind, host: host, line: line})
	f.mu.Unlock()

	res := remote.Result{Host: host, Description: desc}
	if code, ok := f.fail[kind+" "+host]; ok {
		res.ExitCode = code
		res.Stderr = []byte(kind + " failed")
	}
	return res
}

func kindOf(cmd remote.Command) string {
	switch cmd.Description {
	case "systemctl stop stardog":
		return "stop"
	case "systemctl start stardog":
		return "start"
	default:
		return "refresh"
	}
}

func (f *fakeRunner) Run(_ context.Context, cmd remote.Command) remote.Result {
	return f.record(kindOf(cmd), cmd.Host, cmd.Line(), cmd.String())
}

func (f *fakeRunner) Upload(_ context.Context, host, local, remotePath string) remote.Result {
	return f.record("upload", host, local+" -> "+remotePath, "upload "+local)
}

func (f *fakeRunner) Download(context.Context, string, string, string) remote.Result {
	return remote.Result{}
}

type fakeStore struct {
	saved []*db.Rollout
	err   error
}

func (s *fakeStore) SaveRollout(_ context.Context, ro *db.Rollout) error {
	s.saved = append(s.saved, ro)
	return s.err
}

type fakeFetcher struct {
	err error
	uri string
}

func (f *fakeFetcher) Fetch(_ context.Context, uri, dstDir string) (*storage.DownloadResult, error) {
	f.uri = uri
	if f.err != nil {
		return nil, f.err
	}
	return &storage.DownloadResult{LocalPath: filepath.Join(dstDir, "stardog-5.0.zip")}, nil
}

var hosts = []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}

func TestRollout_AllPhasesInOrder(t *testing.T) {
	runner := &fakeRunner{}
	report, err := New(runner, Options{}, nil, nil).Rollout(context.Background(), "prod", hosts, "/tmp/stardog-5.0.zip")
	require.NoError(t, err)

	assert.False(t, report.Failed())
	require.Len(t, runner.calls, 12)

	want := []string{"upload", "stop", "refresh", "start"}
	for i, c := range runner.calls {
		assert.Equal(t, want[i/3], c.kind, "call %d", i)
		assert.Equal(t, hosts[i%3], c.host, "call %d", i)
	}
	assert.Equal(t, "/usr/local/bin/stardog-refresh /tmp/stardog-5.0.zip", runner.calls[6].line)
	assert.Equal(t, "sudo systemctl stop stardog", runner.calls[3].line)
	assert.Equal(t, "/tmp/stardog-5.0.zip -> /tmp/stardog-5.0.zip", runner.calls[0].line)
}

func TestRollout_UploadFailureDoesNotSkipPhases(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{"upload 10.0.0.2": 1}}
	report, err := New(runner, Options{}, nil, nil).Rollout(context.Background(), "prod", hosts, "/tmp/stardog-5.0.zip")
	require.NoError(t, err)

	assert.Len(t, runner.calls, 12)
	for _, kind := range []string{"stop", "refresh", "start"} {
		var got []string
		for _, c := range runner.calls {
			if c.kind == kind {
				got = append(got, c.host)
			}
		}
		assert.Equal(t, hosts, got, kind)
	}

	require.True(t, report.Failed())
	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, PhaseUpload, failures[0].Phase)
	assert.Equal(t, "10.0.0.2", failures[0].Result.Host)
	assert.Equal(t, 1, failures[0].Result.ExitCode)

	assert.Contains(t, report.Summary(), "10.0.0.2: upload /tmp/stardog-5.0.zip exited 1: upload failed")
	assert.Error(t, report.Err())
}

func TestRollout_CollectsEveryFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{
		"stop 10.0.0.1":    5,
		"refresh 10.0.0.3": 1,
		"start 10.0.0.1":   1,
	}}
	report, err := New(runner, Options{}, nil, nil).Rollout(context.Background(), "prod", hosts, "/tmp/r.zip")
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, PhaseStop, failures[0].Phase)
	assert.Equal(t, PhaseRefresh, failures[1].Phase)
	assert.Equal(t, PhaseStart, failures[2].Phase)
}

func TestRollout_ParallelKeepsPhaseBarrier(t *testing.T) {
	many := make([]string, 8)
	for i := range many {
		many[i] = fmt.Sprintf("10.0.1.%d", i)
	}
	runner := &fakeRunner{delay: 5 * time.Millisecond, fail: map[string]int{}}
	for _, h := range many {
		runner.fail["refresh "+h] = 1
	}

	report, err := New(runner, Options{Parallelism: 4}, nil, nil).Rollout(context.Background(), "prod", many, "/tmp/r.zip")
	require.NoError(t, err)

	assert.LessOrEqual(t, int(runner.maxInflight.Load()), 4)
	assert.Greater(t, int(runner.maxInflight.Load()), 1)
	assert.Len(t, report.Failures(), len(many))

	order := map[string]int{"upload": 0, "stop": 1, "refresh": 2, "start": 3}
	for i := 1; i < len(runner.calls); i++ {
		assert.LessOrEqual(t, order[runner.calls[i-1].kind], order[runner.calls[i].kind], "phase barrier violated at call %d", i)
	}
}

func TestRollout_FetchesObjectStorageArtifact(t *testing.T) {
	runner := &fakeRunner{}
	fetcher := &fakeFetcher{}
	dir := t.TempDir()

	_, err := New(runner, Options{WorkDir: dir}, fetcher, nil).Rollout(context.Background(), "prod", hosts[:1], "s3://releases/stardog-5.0.zip")
	require.NoError(t, err)

	assert.Equal(t, "s3://releases/stardog-5.0.zip", fetcher.uri)
	local := filepath.Join(dir, "stardog-5.0.zip")
	require.Len(t, runner.calls, 4)
	assert.Equal(t, local+" -> /tmp/stardog-5.0.zip", runner.calls[0].line)
	assert.Equal(t, "/usr/local/bin/stardog-refresh /tmp/stardog-5.0.zip", runner.calls[2].line)
}

func TestRollout_UploadsIntoRemoteDir(t *testing.T) {
	runner := &fakeRunner{}
	_, err := New(runner, Options{RemoteDir: "/var/tmp/releases"}, nil, nil).Rollout(context.Background(), "prod", hosts[:1], "/home/ops/builds/stardog-5.0.zip")
	require.NoError(t, err)

	require.Len(t, runner.calls, 4)
	assert.Equal(t, "/home/ops/builds/stardog-5.0.zip -> /var/tmp/releases/stardog-5.0.zip", runner.calls[0].line)
	assert.Equal(t, "/usr/local/bin/stardog-refresh /var/tmp/releases/stardog-5.0.zip", runner.calls[2].line)
}

func TestRollout_FetchFailureIsFatal(t *testing.T) {
	runner := &fakeRunner{}
	fetcher := &fakeFetcher{err: fmt.Errorf("NoSuchKey")}

	report, err := New(runner, Options{}, fetcher, nil).Rollout(context.Background(), "prod", hosts, "s3://releases/missing.zip")
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsFatal(err))
	assert.Empty(t, runner.calls)

	_, err = New(runner, Options{}, nil, nil).Rollout(context.Background(), "prod", hosts, "s3://releases/missing.zip")
	assert.True(t, errors.IsFatal(err))
}

func TestRollout_PersistsReport(t *testing.T) {
	runner := &fakeRunner{fail: map[string]int{"start 10.0.0.3": 3}}
	store := &fakeStore{}

	_, err := New(runner, Options{}, nil, store).Rollout(context.Background(), "prod", hosts, "/tmp/r.zip")
	require.NoError(t, err)

	require.Len(t, store.saved, 1)
	ro := store.saved[0]
	assert.NotEmpty(t, ro.RunID)
	assert.Equal(t, "prod", ro.Deployment)
	assert.Equal(t, 3, ro.HostCount)
	assert.Equal(t, db.RolloutFailed, ro.Status)
	require.Len(t, ro.Failures, 1)
	assert.Equal(t, db.RolloutFailure{
		Phase: "start", Host: "10.0.0.3", Command: "systemctl start stardog", ExitCode: 3, Stderr: "start failed",
	}, ro.Failures[0])
}

func TestRollout_StoreErrorDoesNotFailRollout(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("database is locked")}
	report, err := New(&fakeRunner{}, Options{}, nil, store).Rollout(context.Background(), "prod", hosts, "/tmp/r.zip")
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, db.RolloutSucceeded, store.saved[0].Status)
}

func TestReport_ConcurrentAdd(t *testing.T) {
	r := newReport(100)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.add(PhaseStop, remote.Result{Host: fmt.Sprintf("h%d", i), ExitCode: 1})
		}()
	}
	wg.Wait()

	assert.Len(t, r.Failures(), 100)
	seen := map[string]bool{}
	for _, f := range r.Failures() {
		seen[f.Result.Host] = true
	}
	assert.Len(t, seen, 100)
}

func TestReport_SummaryWhenClean(t *testing.T) {
	r := newReport(3)
	assert.Equal(t, "rollout to 3 hosts succeeded", r.Summary())
	assert.NoError(t, r.Err())
}
