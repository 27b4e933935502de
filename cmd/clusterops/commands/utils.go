package commands

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fly-io/clusterops/internal/config"
	"github.com/fly-io/clusterops/internal/logging"
	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/metrics"
	"github.com/fly-io/clusterops/pkg/remote"
)

// loadConfig loads and validates configuration and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "config load failed")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config invalid")
	}
	logging.Init(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// ensureDirectories creates all necessary directories for the application
func ensureDirectories(sqlitePath, fsmDBPath, workDir string) error {
	if sqlitePath != "" {
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return errors.Wrap(err, "failed to create database directory")
		}
	}

	if fsmDBPath != "" {
		if err := os.MkdirAll(fsmDBPath, 0755); err != nil {
			return errors.Wrap(err, "failed to create FSM directory")
		}
	}

	if workDir != "" {
		if err := os.MkdirAll(workDir, 0755); err != nil {
			return errors.Wrap(err, "failed to create work directory")
		}
	}

	return nil
}

// resolveRegion prefers configuration, then the SDK's environment, then
// instance metadata. An empty result leaves the SDK default chain in charge.
func resolveRegion(ctx context.Context, cfg *config.Config) string {
	if cfg.Region != "" {
		return cfg.Region
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		return region
	}
	id, err := cloud.InstanceIdentity(ctx, cloud.NewMetadataClient())
	if err != nil {
		slog.Warn("region_unresolved", "error", err)
		return ""
	}
	return id.Region
}

func newRunner(cfg *config.Config) *remote.Exec {
	return remote.NewExec(remote.Options{
		User:    cfg.SSHUser,
		KeyPath: cfg.SSHKey,
		Timeout: cfg.SSHTimeout,
	})
}

// databaseHosts resolves the private addresses of the count database nodes.
// No hosts at all is fatal.
func databaseHosts(ctx context.Context, inv cloud.Inventory, deployment string, count int) ([]string, error) {
	ids := inv.ListInstanceIDs(ctx, deployment, count)
	hosts := inv.ResolvePrivateIPs(ctx, ids)
	if len(hosts) == 0 {
		return nil, errors.Fatalf("resolve hosts", "no database nodes found for deployment %s", deployment)
	}
	if len(hosts) < count {
		slog.Warn("hosts_missing", "deployment", deployment, "expected", count, "found", len(hosts))
	}
	return hosts, nil
}

// exportMetrics writes the textfile when one is configured. Failing to
// export never changes the command outcome.
func exportMetrics(cfg *config.Config) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		slog.Warn("metrics_export_failed", "path", cfg.MetricsTextfile, "error", err)
	}
}
