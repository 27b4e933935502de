// Package wait blocks until a TCP endpoint accepts connections or a program
// exits cleanly, polling with random backoff.
package wait

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/fly-io/clusterops/pkg/retry"
)

const (
	// MaxBackoff bounds the pause between two tries.
	MaxBackoff = 30 * time.Second
	// DialTimeout bounds one connection attempt.
	DialTimeout = time.Second
)

// Socket polls hostPort until a TCP connection succeeds.
func Socket(ctx context.Context, hostPort string, tries int) bool {
	slog.Info("wait_socket_start", "addr", hostPort, "tries", tries)

	dialer := &net.Dialer{Timeout: DialTimeout}
	ok := retry.Poll(ctx, retry.Policy{MaxAttempts: tries, MaxBackoff: MaxBackoff}, func(ctx context.Context) bool {
		conn, err := dialer.DialContext(ctx, "tcp", hostPort)
		if err != nil {
			slog.Warn("wait_socket_error", "addr", hostPort, "error", err)
			return false
		}
		conn.Close()
		return true
	})
	if ok {
		slog.Info("wait_socket_connected", "addr", hostPort)
	}
	return ok
}

// Sockets waits for each comma-separated host:port in turn and fails on the
// first one that never answers.
func Sockets(ctx context.Context, hostPorts string, tries int) error {
	for _, hp := range strings.Split(hostPorts, ",") {
		hp = strings.TrimSpace(hp)
		if hp == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(hp); err != nil {
			return fmt.Errorf("invalid address %q: %w", hp, err)
		}
		if !Socket(ctx, hp, tries) {
			return fmt.Errorf("failed to connect to %s after %d tries", hp, tries)
		}
	}
	return nil
}

// Program reruns cmd until it exits 0.
func Program(ctx context.Context, runner remote.Runner, cmd remote.Command, tries int) bool {
	slog.Info("wait_program_start", "cmd", cmd.String(), "tries", tries)

	return retry.Poll(ctx, retry.Policy{MaxAttempts: tries, MaxBackoff: MaxBackoff}, func(ctx context.Context) bool {
		res := runner.Run(ctx, cmd)
		if !res.Success() {
			slog.Warn("wait_program_failed", "cmd", cmd.String(), "exit_code", res.ExitCode)
			return false
		}
		slog.Info("wait_program_succeeded", "cmd", cmd.String())
		return true
	})
}
