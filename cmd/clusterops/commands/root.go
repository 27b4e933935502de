package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "clusterops",
	Short: "Node bootstrap and fleet rollout for clustered database deployments",
	Long: `Attaches and prepares storage volumes on freshly launched nodes, rolls
release artifacts across the database fleet, and serves the health probe
that gates the load balancer.`,
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("sqlite-path", "/var/lib/clusterops/clusterops.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", "/var/lib/clusterops/fsm", "FSM state directory")
	rootCmd.PersistentFlags().String("region", "", "Cloud region (default: AWS_REGION, then instance metadata)")
	rootCmd.PersistentFlags().String("work-dir", "/tmp/clusterops", "Directory for fetched artifacts and log bundles")
	rootCmd.PersistentFlags().String("ssh-user", "ubuntu", "Remote login user")
	rootCmd.PersistentFlags().String("ssh-key", "", "Remote login private key")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().String("metrics-textfile", "", "Write metrics to this node-exporter textfile on exit")

	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("region", rootCmd.PersistentFlags().Lookup("region"))
	viper.BindPFlag("work-dir", rootCmd.PersistentFlags().Lookup("work-dir"))
	viper.BindPFlag("ssh-user", rootCmd.PersistentFlags().Lookup("ssh-user"))
	viper.BindPFlag("ssh-key", rootCmd.PersistentFlags().Lookup("ssh-key"))
	viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log-format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("metrics-textfile", rootCmd.PersistentFlags().Lookup("metrics-textfile"))
}
