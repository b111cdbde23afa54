package main

import (
	"os"

	"github.com/spf13/cobra"

	"liaison/internal/interfaces/cli/migrate"
	"liaison/internal/interfaces/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "liaison",
		Short: "Liaison - a chat bridge for your issue tracker",
		Long:  `Liaison connects Slack workspaces to Jira Cloud: slash commands for creating, summarizing and querying tickets, with per-user OAuth credentials cached and refreshed behind the scenes.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
