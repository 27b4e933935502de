package commands

import (
	"strconv"

	"github.com/fly-io/clusterops/pkg/errors"
	"github.com/fly-io/clusterops/pkg/remote"
	"github.com/fly-io/clusterops/pkg/wait"
	"github.com/spf13/cobra"
)

var waitHost string

var waitSocketCmd = &cobra.Command{
	Use:   "wait-socket <tries> <host:port,...>",
	Short: "Wait until every listed address accepts TCP connections",
	Args:  cobra.ExactArgs(2),
	RunE:  runWaitSocket,
}

var waitProgramCmd = &cobra.Command{
	Use:   "wait-program <tries> -- <cmd> [args...]",
	Short: "Rerun a program until it exits 0",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runWaitProgram,
}

func init() {
	rootCmd.AddCommand(waitSocketCmd)
	rootCmd.AddCommand(waitProgramCmd)
	waitProgramCmd.Flags().StringVar(&waitHost, "host", "", "Run the program on this host instead of locally")
}

func parseTries(s string) (int, error) {
	tries, err := strconv.Atoi(s)
	if err != nil || tries < 1 {
		return 0, errors.Fatalf("parse tries", "tries must be a positive integer, got %q", s)
	}
	return tries, nil
}

func runWaitSocket(cmd *cobra.Command, args []string) error {
	tries, err := parseTries(args[0])
	if err != nil {
		return err
	}
	if _, err := loadConfig(); err != nil {
		return err
	}
	return wait.Sockets(cmd.Context(), args[1], tries)
}

func runWaitProgram(cmd *cobra.Command, args []string) error {
	tries, err := parseTries(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	program := remote.Command{Name: args[1], Args: args[2:], Host: waitHost}
	if !wait.Program(cmd.Context(), newRunner(cfg), program, tries) {
		return errors.Fatalf("wait "+program.String(), "did not exit 0 after %d tries", tries)
	}
	return nil
}
