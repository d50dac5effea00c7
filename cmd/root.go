package cmd

import (
	"os"

	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "social-publisher",
	Short: "Publishes content to connected social accounts",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// OS env keeps precedence over both files.
		configuration.LoadEnvFromFile("config.env", ".env")
	},
	SilenceUsage: true,
}

func Execute() {
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(WorkerCmd())
	rootCmd.AddCommand(RetryCmd())
	// Without a subcommand the process behaves like "serve".
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), true)
	}

	if err := rootCmd.Execute(); err != nil {
		logger.GetLogger().WithField("error", err).Error("Command failed")
		os.Exit(1)
	}
}
