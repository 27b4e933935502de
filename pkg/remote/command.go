// Package remote runs commands on the local host or on cluster nodes over
// ssh, returning exit status and captured streams instead of Go errors.
package remote

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
	"github.com/kballard/go-shellquote"
)

// Command is one unit of work: a program and its arguments, optionally bound
// to a remote host. Arguments are never concatenated into a shell string by
// callers; rendering for ssh is done with proper quoting.
type Command struct {
	Host        string
	Name        string
	Args        []string
	Dir         string
	Description string
}

// Local reports whether the command runs on this machine.
func (c Command) Local() bool {
	return c.Host == ""
}

// Argv returns the program and its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// Line renders the command as a single shell-safe line.
func (c Command) Line() string {
	return shellquote.Join(c.Argv()...)
}

func (c Command) String() string {
	if c.Description != "" {
		return c.Description
	}
	return c.Line()
}

// On returns a copy of the command bound to host.
func (c Command) On(host string) Command {
	c.Host = host
	return c
}

// Parse splits a configured command string ("sudo /usr/local/bin/refresh")
// into a Command using shell word rules.
func Parse(line string) (Command, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(words) == 0 {
		return Command{}, fmt.Errorf("parse command %q: empty", line)
	}
	return Command{Name: words[0], Args: words[1:]}, nil
}

// Result is the outcome of one command invocation. A command that could not
// be started at all is reported with ExitCode -1.
type Result struct {
	Host        string
	Description string
	ExitCode    int
	Stdout      []byte
	Stderr      []byte
}

// Success reports whether the command exited 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

func (r Result) String() string {
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	msg := fmt.Sprintf("%s: %s exited %d", host, r.Description, r.ExitCode)
	if s := strings.TrimSpace(string(r.Stderr)); s != "" {
		msg += ": " + s
	}
	return msg
}

// StopCommand stops the named systemd service.
func StopCommand(service string) Command {
	return Command{
		Name:        "sudo",
		Args:        []string{"systemctl", "stop", service},
		Description: "systemctl stop " + service,
	}
}

// StartCommand starts the named systemd service.
func StartCommand(service string) Command {
	return Command{
		Name:        "sudo",
		Args:        []string{"systemctl", "start", service},
		Description: "systemctl start " + service,
	}
}

// RefreshCommand appends the artifact path to the configured refresh program.
func RefreshCommand(refresh Command, artifact string) Command {
	args := make([]string, 0, len(refresh.Args)+1)
	args = append(args, refresh.Args...)
	args = append(args, artifact)
	cmd := Command{Name: refresh.Name, Args: args}
	cmd.Description = "refresh " + artifact
	return cmd
}
