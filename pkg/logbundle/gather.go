// Package logbundle collects diagnostic logs from cluster nodes into a local
// tree laid out as <host>/<node type>/... and packs it as a gzip tarball.
package logbundle

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/remote"
)

// Node types label the second directory level of a bundle.
const (
	NodeTypeDatabase    = "stardog"
	NodeTypeCoordinator = "zookeeper"
)

// LogDir is copied recursively into a subdirectory named after it.
const LogDir = "/mnt/data/stardog-home/logs/*"

// LogFiles are copied flat into the node directory. Globs are expanded on
// the remote side.
var LogFiles = []string{
	"/mnt/data/stardog-home/stardog.log*",
	"/zookeeper.log*",
	"/var/log/zookeeper.log*",
	"/var/log/syslog*",
	"/var/log/auth.log",
	"/var/log/kern.log",
	"/etc/stardog.env.sh",
	"/var/log/cloud-init.log",
	"/mnt/data/stardog-home/stardog.properties",
	"/var/log/cloud-init-output.log",
}

// DefaultJStackCommand dumps JVM thread stacks into the log directory.
var DefaultJStackCommand = remote.Command{Name: "sudo", Args: []string{"/usr/local/bin/stardog-jstack"}}

// Gatherer copies logs off nodes.
type Gatherer struct {
	runner remote.Runner

	// JStack, when set, runs on each host before copying.
	JStack *remote.Command
}

// NewGatherer creates a Gatherer.
func NewGatherer(runner remote.Runner) *Gatherer {
	return &Gatherer{runner: runner}
}

// Gather copies every known log from hosts into dstDir and returns the
// number of successful copies. Missing files are expected on most nodes and
// only logged.
func (g *Gatherer) Gather(ctx context.Context, hosts []string, nodeType, dstDir string) (int, error) {
	copied := 0
	for _, host := range hosts {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		if g.JStack != nil {
			if res := g.runner.Run(ctx, g.JStack.On(host)); !res.Success() {
				slog.Warn("logbundle_jstack_failed", "host", host, "exit_code", res.ExitCode)
			}
		}

		nodeDir := filepath.Join(dstDir, host, nodeType)
		if err := os.MkdirAll(nodeDir, 0o755); err != nil {
			return copied, errors.Wrap(err, "failed to create log directory")
		}

		// The log directory lands in a subdirectory named after its parent.
		subDir := filepath.Join(nodeDir, path.Base(path.Dir(LogDir)))
		if err := os.MkdirAll(subDir, 0o755); err != nil {
			return copied, errors.Wrap(err, "failed to create log directory")
		}
		if g.copy(ctx, host, LogDir, subDir) {
			copied++
		}

		for _, f := range LogFiles {
			if g.copy(ctx, host, f, nodeDir) {
				copied++
			}
		}
	}

	slog.Info("logbundle_gathered", "node_type", nodeType, "hosts", len(hosts), "copied", copied)
	return copied, nil
}

func (g *Gatherer) copy(ctx context.Context, host, src, dst string) bool {
	res := g.runner.Download(ctx, host, src, dst)
	if !res.Success() {
		slog.Warn("logbundle_copy_failed", "host", host, "path", src, "exit_code", res.ExitCode)
		return false
	}
	return true
}
