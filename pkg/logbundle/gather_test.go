package logbundle

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner "downloads" by writing a file named after the remote path.
type fakeRunner struct {
	mu      sync.Mutex
	missing map[string]bool
	ran     []string
}

func (f *fakeRunner) Run(_ context.Context, cmd remote.Command) remote.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, cmd.Host+" "+cmd.Line())
	return remote.Result{Host: cmd.Host}
}

func (f *fakeRunner) Upload(context.Context, string, string, string) remote.Result {
	return remote.Result{}
}

func (f *fakeRunner) Download(_ context.Context, host, remotePath, localPath string) remote.Result {
	if f.missing[remotePath] {
		return remote.Result{Host: host, ExitCode: 1, Stderr: []byte("No such file or directory")}
	}
	name := path.Base(remotePath)
	if name == "*" {
		name = "stardog.log"
	}
	if err := os.WriteFile(filepath.Join(localPath, name), []byte(host+":"+remotePath), 0o644); err != nil {
		return remote.Result{Host: host, ExitCode: -1, Stderr: []byte(err.Error())}
	}
	return remote.Result{Host: host}
}

func TestGather_Layout(t *testing.T) {
	runner := &fakeRunner{missing: map[string]bool{"/zookeeper.log*": true}}
	dst := t.TempDir()

	g := NewGatherer(runner)
	g.JStack = &DefaultJStackCommand

	n, err := g.Gather(context.Background(), []string{"10.0.0.1", "10.0.0.2"}, NodeTypeDatabase, dst)
	require.NoError(t, err)

	perHost := 1 + len(LogFiles) - 1
	assert.Equal(t, 2*perHost, n)

	assert.FileExists(t, filepath.Join(dst, "10.0.0.1", "stardog", "logs", "stardog.log"))
	assert.FileExists(t, filepath.Join(dst, "10.0.0.2", "stardog", "syslog*"))
	assert.Equal(t, []string{
		"10.0.0.1 sudo /usr/local/bin/stardog-jstack",
		"10.0.0.2 sudo /usr/local/bin/stardog-jstack",
	}, runner.ran)
}

func TestGather_NoJStackForCoordinators(t *testing.T) {
	runner := &fakeRunner{}
	_, err := NewGatherer(runner).Gather(context.Background(), []string{"10.0.2.1"}, NodeTypeCoordinator, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, runner.ran)
}

func TestCreateTarball(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "10.0.0.1", "stardog"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "10.0.0.1", "stardog", "kern.log"), []byte("kernel"), 0o644))

	dst := filepath.Join(t.TempDir(), "logs.tar.gz")
	require.NoError(t, CreateTarball(src, dst))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	contents := map[string]string{}
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		if hdr.Typeflag == tar.TypeReg {
			data, err := io.ReadAll(tr)
			require.NoError(t, err)
			contents[hdr.Name] = string(data)
		}
	}

	assert.Contains(t, names, "stardog_logs/")
	assert.Contains(t, names, "stardog_logs/10.0.0.1/stardog/")
	assert.Equal(t, "kernel", contents["stardog_logs/10.0.0.1/stardog/kern.log"])
}
