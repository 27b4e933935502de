package commands

import (
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/health"
	"github.com/fly-io/clusterops/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor-zk <port>",
	Short: "Serve the coordinator health check for the load balancer",
	Long: `Listens on <port> and answers every request with 200 "OK" or 500 "FAILED".
For the activation offset after start the answer is always OK, giving the
ensemble time to form; after that it reflects a ZooKeeper "stat" probe.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().String("zookeeper-addr", health.DefaultZooKeeperAddr, "ZooKeeper client address to probe")
	monitorCmd.Flags().Duration("activation-offset", health.DefaultActivationOffset, "Grace period during which the check always passes")
	monitorCmd.Flags().String("metrics-addr", "", "Serve /metrics on this address")
	viper.BindPFlag("zookeeper-addr", monitorCmd.Flags().Lookup("zookeeper-addr"))
	viper.BindPFlag("activation-offset", monitorCmd.Flags().Lookup("activation-offset"))
	viper.BindPFlag("metrics-addr", monitorCmd.Flags().Lookup("metrics-addr"))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 1 || port > 65535 {
		return errors.Fatalf("parse port", "invalid port %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(cfg.ActivationOffset)
	server := health.NewServer(health.NewZooKeeperTester(cfg.ZooKeeperAddr), deadline)
	slog.Info("monitor_start", "port", port, "zookeeper_addr", cfg.ZooKeeperAddr, "activation_deadline", deadline)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return health.ListenAndServe(ctx, net.JoinHostPort("", strconv.Itoa(port)), server)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return health.ListenAndServe(ctx, cfg.MetricsAddr, metrics.Handler())
		})
	}
	return g.Wait()
}
