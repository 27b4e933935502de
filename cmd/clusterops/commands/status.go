package commands

import (
	"fmt"

	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	statusLimit int
	statusRunID string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List recorded bootstraps and rollouts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "Number of rollouts to show")
	statusCmd.Flags().StringVar(&statusRunID, "rollout", "", "Show every failure of one rollout run")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	if statusRunID != "" {
		ro, err := repo.GetRollout(ctx, statusRunID)
		if err != nil {
			return errors.Wrap(err, "rollout lookup failed")
		}
		if ro == nil {
			return fmt.Errorf("rollout not found: %s", statusRunID)
		}
		fmt.Fprintf(out, "%s %s %s %s (%d hosts)\n", ro.RunID, ro.Deployment, ro.Status, ro.Artifact, ro.HostCount)
		for _, f := range ro.Failures {
			fmt.Fprintf(out, "  %-8s %-16s exit %-4d %s: %s\n", f.Phase, f.Host, f.ExitCode, f.Command, f.Stderr)
		}
		return nil
	}

	bootstraps, err := repo.ListBootstraps()
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(bootstraps) == 0 {
		fmt.Fprintln(out, "No bootstraps found")
	} else {
		fmt.Fprintf(out, "%-16s %-20s %-12s %-22s %-10s %-9s\n", "DEPLOYMENT", "INSTANCE", "DEVICE", "VOLUME", "STATUS", "FORMATTED")
		fmt.Fprintln(out, "------------------------------------------------------------------------------------------------")
		for _, b := range bootstraps {
			volumeID := b.VolumeID
			if volumeID == "" {
				volumeID = "-"
			}
			fmt.Fprintf(out, "%-16s %-20s %-12s %-22s %-10s %-9t\n",
				b.Deployment, b.InstanceID, b.Device, volumeID, b.Status, b.Formatted)
		}
	}

	rollouts, err := repo.ListRollouts(ctx, statusLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	fmt.Fprintln(out)
	if len(rollouts) == 0 {
		fmt.Fprintln(out, "No rollouts found")
		return nil
	}
	fmt.Fprintf(out, "%-36s %-16s %-10s %-6s %-20s %s\n", "RUN", "DEPLOYMENT", "STATUS", "HOSTS", "CREATED", "ARTIFACT")
	fmt.Fprintln(out, "------------------------------------------------------------------------------------------------")
	for _, ro := range rollouts {
		fmt.Fprintf(out, "%-36s %-16s %-10s %-6d %-20s %s\n",
			ro.RunID, ro.Deployment, ro.Status, ro.HostCount, ro.CreatedAt, ro.Artifact)
	}
	return nil
}
