//go:build linux
// +build linux

package mount

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/moby/sys/mountinfo"
)

// LinuxDevice runs mount, mkfs and chown on the local host.
type LinuxDevice struct {
	runner remote.Runner
}

// NewDevice creates the Linux device implementation.
func NewDevice(runner remote.Runner) Device {
	return &LinuxDevice{runner: runner}
}

func (d *LinuxDevice) IsMounted(mountPoint string) (bool, error) {
	return mountinfo.Mounted(mountPoint)
}

func (d *LinuxDevice) Mount(ctx context.Context, device, mountPoint string) error {
	return d.run(ctx, remote.Command{Name: "mount", Args: []string{device, mountPoint}})
}

func (d *LinuxDevice) Format(ctx context.Context, device, fsType string) error {
	slog.Info("format_device", "device_path", device, "filesystem", fsType)
	return d.run(ctx, remote.Command{Name: "mkfs", Args: []string{"-t", fsType, device}})
}

func (d *LinuxDevice) Chown(ctx context.Context, owner, path string) error {
	return d.run(ctx, remote.Command{Name: "chown", Args: []string{"-R", owner, path}})
}

func (d *LinuxDevice) run(ctx context.Context, cmd remote.Command) error {
	res := d.runner.Run(ctx, cmd)
	if !res.Success() {
		return fmt.Errorf("%s", res.String())
	}
	return nil
}
