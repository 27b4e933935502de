package remote

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"
)

// DefaultTimeout bounds a single command when no timeout is configured.
const DefaultTimeout = 10 * time.Minute

// Runner executes commands and file copies. Nonzero exit is never a Go error;
// callers inspect the Result.
type Runner interface {
	Run(ctx context.Context, cmd Command) Result
	Upload(ctx context.Context, host, localPath, remotePath string) Result
	Download(ctx context.Context, host, remotePath, localPath string) Result
}

// Options configures the ssh/scp transport.
type Options struct {
	User    string
	KeyPath string
	Timeout time.Duration
}

// Exec runs local commands with os/exec and remote ones through the system
// ssh and scp binaries.
type Exec struct {
	opts Options
}

// NewExec creates a command runner.
func NewExec(opts Options) *Exec {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Exec{opts: opts}
}

var hostKeyOpts = []string{"-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null"}

func (e *Exec) target(host string) string {
	if e.opts.User == "" {
		return host
	}
	return e.opts.User + "@" + host
}

func (e *Exec) transportOpts() []string {
	opts := append([]string{}, hostKeyOpts...)
	if e.opts.KeyPath != "" {
		opts = append(opts, "-i", e.opts.KeyPath)
	}
	return opts
}

// sshArgv renders a remote command as an ssh invocation.
func (e *Exec) sshArgv(cmd Command) []string {
	line := cmd.Line()
	if cmd.Dir != "" {
		line = "cd " + shellquote.Join(cmd.Dir) + " && " + line
	}
	argv := []string{"ssh"}
	argv = append(argv, e.transportOpts()...)
	argv = append(argv, e.target(cmd.Host), line)
	return argv
}

func (e *Exec) scpArgv(src, dst string) []string {
	argv := []string{"scp", "-r"}
	argv = append(argv, e.transportOpts()...)
	return append(argv, src, dst)
}

// Run executes cmd locally or on cmd.Host.
func (e *Exec) Run(ctx context.Context, cmd Command) Result {
	argv := cmd.Argv()
	dir := cmd.Dir
	if !cmd.Local() {
		argv = e.sshArgv(cmd)
		dir = ""
	}
	return e.run(ctx, cmd.Host, cmd.String(), dir, argv)
}

// Upload copies localPath to remotePath on host.
func (e *Exec) Upload(ctx context.Context, host, localPath, remotePath string) Result {
	return e.run(ctx, host, "upload "+localPath, "", e.scpArgv(localPath, e.target(host)+":"+remotePath))
}

// Download copies remotePath (which may be a remote glob) from host into localPath.
func (e *Exec) Download(ctx context.Context, host, remotePath, localPath string) Result {
	return e.run(ctx, host, "download "+remotePath, "", e.scpArgv(e.target(host)+":"+remotePath, localPath))
}

func (e *Exec) run(ctx context.Context, host, desc, dir string, argv []string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	slog.Debug("command_start", "host", host, "cmd", argv[0], "args", argv[1:], "dir", dir)

	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Dir = dir
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()

	res := Result{
		Host:        host,
		Description: desc,
		Stdout:      stdout.Bytes(),
		Stderr:      stderr.Bytes(),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		res.ExitCode = -1
		res.Stderr = append(res.Stderr, []byte("command timed out after "+e.opts.Timeout.String())...)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Stderr = append(res.Stderr, []byte(err.Error())...)
	}

	slog.Debug("command_stdout", "host", host, "cmd", desc, "output", string(res.Stdout))
	slog.Debug("command_stderr", "host", host, "cmd", desc, "output", string(res.Stderr))
	if !res.Success() {
		slog.Warn("command_failed", "host", host, "cmd", desc, "exit_code", res.ExitCode, "duration", time.Since(start))
	}
	return res
}
