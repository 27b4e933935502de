//go:build !linux
// +build !linux

package mount

import (
	"context"
	"fmt"
	"runtime"

	"github.com/fly-io/clusterops/pkg/remote"
)

// StubDevice rejects every operation on non-Linux systems
type StubDevice struct{}

// NewDevice creates a stub device on non-Linux systems
func NewDevice(remote.Runner) Device {
	return &StubDevice{}
}

func (d *StubDevice) IsMounted(string) (bool, error) {
	return false, nil
}

func (d *StubDevice) Mount(context.Context, string, string) error {
	return fmt.Errorf("mount not supported on %s", runtime.GOOS)
}

func (d *StubDevice) Format(context.Context, string, string) error {
	return fmt.Errorf("mkfs not supported on %s", runtime.GOOS)
}

func (d *StubDevice) Chown(context.Context, string, string) error {
	return fmt.Errorf("chown not supported on %s", runtime.GOOS)
}
