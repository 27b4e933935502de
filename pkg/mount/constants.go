package mount

// Defaults for a freshly formatted data volume.
const (
	// DefaultFSType is the filesystem created on an empty volume
	DefaultFSType = "ext4"
	// DefaultHomeDir is created under the mount point after formatting
	DefaultHomeDir = "stardog-home"
	// DefaultHomeMode is the permission of the home directory
	DefaultHomeMode = 0o775
	// DefaultOwner receives ownership of the home directory
	DefaultOwner = "ubuntu"
)
