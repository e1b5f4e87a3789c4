package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/orris-inc/rolloutd/internal/interfaces/cli/migrate"
	"github.com/orris-inc/rolloutd/internal/interfaces/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rolloutd",
		Short: "rolloutd - staged software rollout engine",
		Long:  `rolloutd drives staged rollouts of distribution sets to device fleets, with a scheduler, auto-assignment and migration tools.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
