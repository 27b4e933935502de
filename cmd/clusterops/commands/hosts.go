package commands

import (
	"fmt"
	"strconv"

	"github.com/fly-io/clusterops/pkg/cloud"
	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	hostsCoordinators bool
	hostsVerbose      bool
)

var hostsCmd = &cobra.Command{
	Use:   "hosts <deployment> [count]",
	Short: "Print the private addresses of a deployment's nodes",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runHosts,
}

func init() {
	rootCmd.AddCommand(hostsCmd)
	hostsCmd.Flags().BoolVar(&hostsCoordinators, "coordinators", false, "List the coordination tier instead of database nodes")
	hostsCmd.Flags().BoolVarP(&hostsVerbose, "verbose", "v", false, "Include instance IDs and zones")
}

func runHosts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	deployment := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	inv, err := cloud.NewAWSInventory(ctx, resolveRegion(ctx, cfg))
	if err != nil {
		return errors.Wrap(err, "cloud inventory init failed")
	}

	var ids []string
	if hostsCoordinators {
		ids = inv.ListCoordinatorInstanceIDs(ctx, deployment)
	} else {
		if len(args) < 2 {
			return errors.Fatalf("parse count", "count is required for database nodes")
		}
		count, err := strconv.Atoi(args[1])
		if err != nil || count < 1 {
			return errors.Fatalf("parse count", "count must be a positive integer, got %q", args[1])
		}
		ids = inv.ListInstanceIDs(ctx, deployment, count)
	}

	out := cmd.OutOrStdout()
	if !hostsVerbose {
		for _, ip := range inv.ResolvePrivateIPs(ctx, ids) {
			fmt.Fprintln(out, ip)
		}
		return nil
	}

	fmt.Fprintf(out, "%-22s %-16s %-12s\n", "INSTANCE", "PRIVATE IP", "ZONE")
	for _, n := range inv.Nodes(ctx, ids) {
		fmt.Fprintf(out, "%-22s %-16s %-12s\n", n.InstanceID, n.PrivateIP, n.AvailabilityZone)
	}
	return nil
}
