package main

import (
	"log/slog"
	"os"

	"github.com/fly-io/clusterops/cmd/clusterops/commands"
)

func main() {
	// Text logging until the configuration is loaded
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	commands.Execute()
}
