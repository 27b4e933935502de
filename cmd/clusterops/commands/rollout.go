package commands

import (
	"log/slog"
	"strconv"

	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/fly-io/clusterops/pkg/rollout"
	"github.com/fly-io/clusterops/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rolloutCmd = &cobra.Command{
	Use:     "rollout <deployment> <count> <release-file>",
	Aliases: []string{"update"},
	Short:   "Roll a release artifact across every database node",
	Long: `Uploads the release to every database node, stops the service on all of
them, runs the refresh program, and starts the service again. Each phase
finishes on every node before the next begins. Failures on individual nodes
are collected and reported at the end; they do not stop the rollout.

<release-file> may be a local path or an s3://bucket/key URI.`,
	Args: cobra.ExactArgs(3),
	RunE: runRollout,
}

func init() {
	rootCmd.AddCommand(rolloutCmd)
	rolloutCmd.Flags().Int("parallelism", 1, "Nodes worked on at once within a phase")
	rolloutCmd.Flags().String("service", "stardog", "Service unit stopped and started on each node")
	rolloutCmd.Flags().String("remote-dir", "/tmp", "Existing directory on each node that receives the release")
	viper.BindPFlag("parallelism", rolloutCmd.Flags().Lookup("parallelism"))
	viper.BindPFlag("service", rolloutCmd.Flags().Lookup("service"))
	viper.BindPFlag("remote-dir", rolloutCmd.Flags().Lookup("remote-dir"))
}

func runRollout(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deployment, artifact := args[0], args[2]
	count, err := strconv.Atoi(args[1])
	if err != nil || count < 1 {
		return errors.Fatalf("parse count", "count must be a positive integer, got %q", args[1])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer exportMetrics(cfg)

	if err := ensureDirectories(cfg.SQLitePath, "", cfg.WorkDir); err != nil {
		return err
	}

	refreshCmd, err := remote.Parse(cfg.RefreshCommand)
	if err != nil {
		return errors.Wrap(err, "refresh-command invalid")
	}

	region := resolveRegion(ctx, cfg)
	inv, err := cloud.NewAWSInventory(ctx, region)
	if err != nil {
		return errors.Wrap(err, "cloud inventory init failed")
	}

	hosts, err := databaseHosts(ctx, inv, deployment, count)
	if err != nil {
		return err
	}

	var fetcher rollout.Fetcher
	if storage.IsURI(artifact) {
		client, err := storage.NewClient(ctx, region)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		fetcher = client
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	executor := rollout.New(newRunner(cfg), rollout.Options{
		Service:        cfg.Service,
		RefreshCommand: refreshCmd,
		Parallelism:    cfg.Parallelism,
		WorkDir:        cfg.WorkDir,
		RemoteDir:      cfg.RemoteDir,
	}, fetcher, repo)

	report, err := executor.Rollout(ctx, deployment, hosts, artifact)
	if err != nil {
		return err
	}

	if report.Failed() {
		slog.Error("rollout_failed", "deployment", deployment, "failures", len(report.Failures()))
		return report.Err()
	}

	slog.Info("rollout_succeeded", "deployment", deployment, "hosts", len(hosts))
	return nil
}
