// Package cloud exposes the read-mostly cloud lookups the orchestrator needs:
// tagged volumes, autoscaling group members and their private addresses.
// Every provider failure is logged and surfaces as "no result"; callers decide
// whether absence is fatal.
package cloud

import (
	"context"
	"fmt"
)

// DeploymentTagKey is the volume tag holding the deployment name.
const DeploymentTagKey = "DeploymentName"

// VolumeState is the provider-reported volume lifecycle state.
type VolumeState string

const (
	VolumeAvailable VolumeState = "available"
	VolumeAttaching VolumeState = "attaching"
	VolumeInUse     VolumeState = "in-use"
	VolumeDetaching VolumeState = "detaching"
	VolumeError     VolumeState = "error"
)

// Volume is a provider-owned block volume. This system never creates or
// deletes volumes, it only observes and attaches them.
type Volume struct {
	ID               string
	State            VolumeState
	AvailabilityZone string
	DeploymentTag    string
}

// Node is a cluster member discovered for the current invocation.
type Node struct {
	InstanceID       string
	PrivateIP        string
	AvailabilityZone string
}

// Inventory is the cloud capability boundary.
type Inventory interface {
	// FindAvailableVolume returns the first available volume tagged with the
	// deployment (and in zone, when zone is non-empty).
	FindAvailableVolume(ctx context.Context, deploymentTag, zone string) (string, bool)

	// VolumeState looks up one volume; false on any error.
	VolumeState(ctx context.Context, volumeID string) (VolumeState, bool)

	// AttachVolume requests an attachment and does not wait for it.
	AttachVolume(ctx context.Context, volumeID, device, instanceID string) bool

	// ListInstanceIDs enumerates the count numbered database groups.
	ListInstanceIDs(ctx context.Context, deployment string, count int) []string

	// ListCoordinatorInstanceIDs enumerates the coordination tier group.
	ListCoordinatorInstanceIDs(ctx context.Context, deployment string) []string

	// ResolvePrivateIPs maps instance IDs to private addresses.
	ResolvePrivateIPs(ctx context.Context, instanceIDs []string) []string

	// Nodes resolves instance IDs to full node descriptions.
	Nodes(ctx context.Context, instanceIDs []string) []Node
}

// DatabaseGroupName is the autoscaling group holding database node index i.
func DatabaseGroupName(deployment string, i int) string {
	return fmt.Sprintf("%ssdasg%d", deployment, i)
}

// CoordinatorGroupName is the name fragment of the coordination tier group.
func CoordinatorGroupName(deployment string) string {
	return deployment + "zkasg"
}
