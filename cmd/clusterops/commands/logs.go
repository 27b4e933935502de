package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/logbundle"
	"github.com/fly-io/clusterops/pkg/storage"
	"github.com/spf13/cobra"
)

var gatherJStack bool

var gatherLogsCmd = &cobra.Command{
	Use:   "gather-logs <deployment> <count> <dst-file>",
	Short: "Collect logs from every node into one gzip tarball",
	Long: `Copies the known log files from each database and coordinator node and
packs them as <host>/<node type>/... under a stardog_logs root.

<dst-file> may be a local path or an s3://bucket/key URI.`,
	Args: cobra.ExactArgs(3),
	RunE: runGatherLogs,
}

func init() {
	rootCmd.AddCommand(gatherLogsCmd)
	gatherLogsCmd.Flags().BoolVar(&gatherJStack, "jstack", true, "Capture JVM thread dumps on database nodes first")
}

func runGatherLogs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deployment, dst := args[0], args[2]
	count, err := strconv.Atoi(args[1])
	if err != nil || count < 1 {
		return errors.Fatalf("parse count", "count must be a positive integer, got %q", args[1])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := ensureDirectories("", "", cfg.WorkDir); err != nil {
		return err
	}

	region := resolveRegion(ctx, cfg)
	inv, err := cloud.NewAWSInventory(ctx, region)
	if err != nil {
		return errors.Wrap(err, "cloud inventory init failed")
	}

	dbHosts := inv.ResolvePrivateIPs(ctx, inv.ListInstanceIDs(ctx, deployment, count))
	zkHosts := inv.ResolvePrivateIPs(ctx, inv.ListCoordinatorInstanceIDs(ctx, deployment))
	if len(dbHosts)+len(zkHosts) == 0 {
		return errors.Fatalf("resolve hosts", "no nodes found for deployment %s", deployment)
	}

	stage, err := os.MkdirTemp(cfg.WorkDir, "logs-")
	if err != nil {
		return errors.Wrap(err, "failed to create staging directory")
	}
	defer os.RemoveAll(stage)

	gatherer := logbundle.NewGatherer(newRunner(cfg))
	if gatherJStack {
		gatherer.JStack = &logbundle.DefaultJStackCommand
	}

	copied, err := gatherer.Gather(ctx, dbHosts, logbundle.NodeTypeDatabase, stage)
	if err != nil {
		return err
	}
	gatherer.JStack = nil
	n, err := gatherer.Gather(ctx, zkHosts, logbundle.NodeTypeCoordinator, stage)
	if err != nil {
		return err
	}
	copied += n

	local := dst
	if storage.IsURI(dst) {
		local = filepath.Join(cfg.WorkDir, fmt.Sprintf("%s-logs-%s.tar.gz", deployment, time.Now().UTC().Format("20060102-150405")))
		defer os.Remove(local)
	}
	if err := logbundle.CreateTarball(stage, local); err != nil {
		return err
	}

	if storage.IsURI(dst) {
		client, err := storage.NewClient(ctx, region)
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		if err := client.Upload(ctx, local, dst); err != nil {
			return errors.Wrap(err, "log bundle upload failed")
		}
	}

	slog.Info("gather_logs_finished", "deployment", deployment, "files", copied, "dst", dst)
	return nil
}
