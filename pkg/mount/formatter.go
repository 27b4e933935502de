// Package mount makes an attached block device usable: mount it, and if it
// carries no filesystem yet, format it first and prepare the data home.
package mount

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fly-io/clusterops/pkg/errors"
)

// Target is a device mounted at a mount point. Formatted is true only when
// this call created the filesystem.
type Target struct {
	DevicePath string
	MountPoint string
	Formatted  bool
}

// Options configures what a fresh volume looks like.
type Options struct {
	FSType   string
	HomeDir  string
	HomeMode os.FileMode
	Owner    string
}

func (o Options) withDefaults() Options {
	if o.FSType == "" {
		o.FSType = DefaultFSType
	}
	if o.HomeDir == "" {
		o.HomeDir = DefaultHomeDir
	}
	if o.HomeMode == 0 {
		o.HomeMode = DefaultHomeMode
	}
	if o.Owner == "" {
		o.Owner = DefaultOwner
	}
	return o
}

// Formatter mounts devices, formatting them on first use.
type Formatter struct {
	dev  Device
	opts Options
}

// NewFormatter creates a Formatter. Zero option fields take the defaults.
func NewFormatter(dev Device, opts Options) *Formatter {
	return &Formatter{dev: dev, opts: opts.withDefaults()}
}

// EnsureMounted mounts device at mountPoint. A failed first mount is taken to
// mean the volume has no filesystem: it is formatted once and mounted again.
// Every failure after that is fatal; formatting is never retried.
func (f *Formatter) EnsureMounted(ctx context.Context, device, mountPoint string) (Target, error) {
	target := Target{DevicePath: device, MountPoint: mountPoint}
	slog.Info("mount_start", "device_path", device, "mount_path", mountPoint)

	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		return target, errors.Fatal("create mount point "+mountPoint, err)
	}

	mounted, err := f.dev.IsMounted(mountPoint)
	if err != nil {
		slog.Warn("mount_check_failed", "mount_path", mountPoint, "error", err)
	}
	if mounted {
		slog.Info("mount_already_mounted", "mount_path", mountPoint)
		return target, nil
	}

	err = f.dev.Mount(ctx, device, mountPoint)
	if err == nil {
		slog.Info("mount_complete", "device_path", device, "mount_path", mountPoint, "formatted", false)
		return target, nil
	}
	slog.Warn("mount_failed_formatting", "device_path", device, "error", err)

	if err := f.dev.Format(ctx, device, f.opts.FSType); err != nil {
		slog.Error("format_failed", "device_path", device, "error", err)
		return target, errors.Fatal("format "+device, err)
	}
	target.Formatted = true

	if err := f.dev.Mount(ctx, device, mountPoint); err != nil {
		slog.Error("mount_after_format_failed", "device_path", device, "error", err)
		return target, errors.Fatal("mount "+device+" after format", err)
	}

	if err := f.prepareHome(ctx, mountPoint); err != nil {
		return target, err
	}

	slog.Info("mount_complete", "device_path", device, "mount_path", mountPoint, "formatted", true)
	return target, nil
}

func (f *Formatter) prepareHome(ctx context.Context, mountPoint string) error {
	home := filepath.Join(mountPoint, f.opts.HomeDir)
	if err := os.MkdirAll(home, f.opts.HomeMode); err != nil {
		return errors.Fatal("create home "+home, err)
	}
	// MkdirAll is subject to the umask.
	if err := os.Chmod(home, f.opts.HomeMode); err != nil {
		return errors.Fatal("chmod home "+home, err)
	}
	if err := f.dev.Chown(ctx, f.opts.Owner, home); err != nil {
		return errors.Fatal("chown home "+home, err)
	}
	slog.Info("mount_home_ready", "path", home, "owner", f.opts.Owner)
	return nil
}
