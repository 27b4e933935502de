package commands

import (
	"log/slog"

	"github.com/fly-io/clusterops/pkg/attach"
	"github.com/fly-io/clusterops/pkg/bootstrap"
	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/db"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/mount"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var bootstrapCmd = &cobra.Command{
	Use:     "bootstrap <deployment> <mount-point> <device>",
	Aliases: []string{"find-volume"},
	Short:   "Attach a tagged volume to this instance and mount it",
	Long: `Finds an available volume tagged with the deployment name, attaches it
to this instance at <device>, and mounts it at <mount-point>. A volume without
a filesystem is formatted first. Progress is recorded so an interrupted run
can be resumed.`,
	Args: cobra.ExactArgs(3),
	RunE: runBootstrap,
}

func init() {
	rootCmd.AddCommand(bootstrapCmd)
	bootstrapCmd.Flags().String("fs-type", "ext4", "Filesystem created on a blank volume")
	bootstrapCmd.Flags().String("home-owner", "ubuntu", "Owner of the data home on a fresh volume")
	viper.BindPFlag("fs-type", bootstrapCmd.Flags().Lookup("fs-type"))
	viper.BindPFlag("home-owner", bootstrapCmd.Flags().Lookup("home-owner"))
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deployment, mountPoint, device := args[0], args[1], args[2]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer exportMetrics(cfg)

	if err := ensureDirectories(cfg.SQLitePath, cfg.FSMDBPath, ""); err != nil {
		return err
	}

	ident, err := cloud.InstanceIdentity(ctx, cloud.NewMetadataClient())
	if err != nil {
		return errors.Wrap(err, "instance identity unavailable")
	}
	region := cfg.Region
	if region == "" {
		region = ident.Region
	}

	inv, err := cloud.NewAWSInventory(ctx, region)
	if err != nil {
		return errors.Wrap(err, "cloud inventory init failed")
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	formatter := mount.NewFormatter(mount.NewDevice(newRunner(cfg)), mount.Options{
		FSType:  cfg.FSType,
		HomeDir: cfg.HomeDir,
		Owner:   cfg.HomeOwner,
	})
	attacher := attach.New(inv, nil, attach.DefaultPolicies())
	machine := bootstrap.NewMachine(repo, attacher, formatter, cfg.FSMMaxRetries)

	resp, err := bootstrap.Run(ctx, cfg.FSMDBPath, machine, bootstrap.NodeRequest{
		RunID:      uuid.NewString(),
		Deployment: deployment,
		Zone:       ident.AvailabilityZone,
		InstanceID: ident.InstanceID,
		Device:     device,
		MountPoint: mountPoint,
	})
	if err != nil {
		if resp != nil && resp.ErrorMessage != "" {
			slog.Error("bootstrap_failed", "deployment", deployment, "device", device, "volume_id", resp.VolumeID, "error", resp.ErrorMessage)
		}
		return err
	}

	slog.Info("bootstrap_finished",
		"deployment", deployment,
		"volume_id", resp.VolumeID,
		"device", device,
		"mount_point", mountPoint,
		"formatted", resp.Formatted,
		"skipped_attach", resp.SkippedAttach)
	return nil
}
