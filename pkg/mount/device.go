package mount

import "context"

// Device performs the privileged block-device operations.
type Device interface {
	// IsMounted reports whether mountPoint is currently a mount point
	IsMounted(mountPoint string) (bool, error)

	// Mount mounts device at mountPoint
	Mount(ctx context.Context, device, mountPoint string) error

	// Format creates a filesystem of fsType on device
	Format(ctx context.Context, device, fsType string) error

	// Chown recursively changes ownership of path
	Chown(ctx context.Context, owner, path string) error
}
