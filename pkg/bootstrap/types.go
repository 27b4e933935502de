package bootstrap

// NodeRequest is the workflow input
type NodeRequest struct {
	RunID      string
	Deployment string
	Zone       string
	InstanceID string
	Device     string
	MountPoint string
}

// NodeResponse is the workflow output (accumulated across transitions)
type NodeResponse struct {
	// From Check
	BootstrapID   int64
	SkippedAttach bool

	// From Attach
	VolumeID string
	Attempts int

	// From Mount
	Formatted bool

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateCheck    = "check"
	StateAttach   = "attach"
	StateMount    = "mount"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// WorkflowName is the name the workflow is registered under.
const WorkflowName = "node-bootstrap"
