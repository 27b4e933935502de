package db

// Schema defines the SQLite database schema for bootstrap runs and rollouts.
// A node keeps one bootstrap row per (deployment, instance, device); each
// rollout keeps its failed host commands in rollout_failures.
const Schema = `
CREATE TABLE IF NOT EXISTS bootstraps (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    deployment TEXT NOT NULL,
    instance_id TEXT NOT NULL,
    device TEXT NOT NULL,
    mount_point TEXT NOT NULL,
    volume_id TEXT,
    formatted INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('pending', 'attached', 'ready', 'failed')),
    error_message TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (deployment, instance_id, device)
);

CREATE INDEX IF NOT EXISTS idx_bootstraps_status ON bootstraps(status);

CREATE TABLE IF NOT EXISTS rollouts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    deployment TEXT NOT NULL,
    artifact TEXT NOT NULL,
    host_count INTEGER NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('succeeded', 'failed')),
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rollouts_deployment ON rollouts(deployment);

CREATE TABLE IF NOT EXISTS rollout_failures (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    rollout_id INTEGER NOT NULL REFERENCES rollouts(id),
    phase TEXT NOT NULL,
    host TEXT NOT NULL,
    command TEXT NOT NULL,
    exit_code INTEGER NOT NULL,
    stdout TEXT,
    stderr TEXT
);

CREATE INDEX IF NOT EXISTS idx_rollout_failures_rollout_id ON rollout_failures(rollout_id);
`

// Bootstrap status constants
const (
	StatusPending  = "pending"
	StatusAttached = "attached"
	StatusReady    = "ready"
	StatusFailed   = "failed"
)

// Rollout status constants
const (
	RolloutSucceeded = "succeeded"
	RolloutFailed    = "failed"
)

// Bootstrap represents one node's volume bootstrap
type Bootstrap struct {
	ID           int64
	RunID        string
	Deployment   string
	InstanceID   string
	Device       string
	MountPoint   string
	VolumeID     string
	Formatted    bool
	Status       string
	ErrorMessage string
	CreatedAt    string
	UpdatedAt    string
}

// Rollout represents one fleet rollout
type Rollout struct {
	ID         int64
	RunID      string
	Deployment string
	Artifact   string
	HostCount  int
	Status     string
	CreatedAt  string
	Failures   []RolloutFailure
}

// RolloutFailure is one failed host command of a rollout
type RolloutFailure struct {
	Phase    string
	Host     string
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}
