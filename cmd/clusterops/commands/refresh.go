package commands

import (
	"log/slog"

	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/refresh"
	"github.com/fly-io/clusterops/pkg/security"
	"github.com/fly-io/clusterops/pkg/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <release-file>",
	Short: "Replace the local installation with a release archive",
	Long: `Copies the release archive into the install root, unpacks it, moves the
current installation aside with a timestamp suffix, and moves the unpacked
release into its place. Every step is attempted; all failures are reported.

<release-file> may be a local .zip, .tar.gz or .tgz, or an s3:// URI.`,
	Args: cobra.ExactArgs(1),
	RunE: runRefresh,
}

func init() {
	rootCmd.AddCommand(refreshCmd)
	refreshCmd.Flags().String("install-root", "/usr/local", "Directory holding the installation")
	refreshCmd.Flags().Int64("max-file-size", 1024*1024*1024, "Max size of one unpacked file in bytes")
	refreshCmd.Flags().Int64("max-total-size", 4*1024*1024*1024, "Max total unpacked size in bytes")
	refreshCmd.Flags().Float64("max-compression-ratio", 100.0, "Max compression ratio")
	viper.BindPFlag("install-root", refreshCmd.Flags().Lookup("install-root"))
	viper.BindPFlag("max-file-size", refreshCmd.Flags().Lookup("max-file-size"))
	viper.BindPFlag("max-total-size", refreshCmd.Flags().Lookup("max-total-size"))
	viper.BindPFlag("max-compression-ratio", refreshCmd.Flags().Lookup("max-compression-ratio"))
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	release := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if storage.IsURI(release) {
		if err := ensureDirectories("", "", cfg.WorkDir); err != nil {
			return err
		}
		client, err := storage.NewClient(ctx, resolveRegion(ctx, cfg))
		if err != nil {
			return errors.Wrap(err, "S3 client failed")
		}
		res, err := client.Fetch(ctx, release, cfg.WorkDir)
		if err != nil {
			return errors.Wrap(err, "release fetch failed")
		}
		release = res.LocalPath
	}

	r := refresh.New(refresh.Options{
		Root: cfg.InstallRoot,
		Name: cfg.Service,
		Limits: security.Limits{
			MaxFileSize:         cfg.MaxFileSize,
			MaxTotalSize:        cfg.MaxTotalSize,
			MaxCompressionRatio: cfg.MaxCompressionRatio,
		},
	})
	if err := r.Refresh(ctx, release); err != nil {
		return err
	}

	slog.Info("refresh_finished", "release", release, "root", cfg.InstallRoot)
	return nil
}
