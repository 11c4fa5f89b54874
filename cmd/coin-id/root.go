package main

import (
	"github.com/spf13/cobra"

	coinid "github.com/menta2k/coin-id"
)

func newRootCommand() *cobra.Command {
	var configFlag, sessionFlag, dbFlag, logLevelFlag string

	ctx := newCommandContext(&configFlag, &sessionFlag, &dbFlag, &logLevelFlag)

	rootCmd := &cobra.Command{
		Use:           "coin-id",
		Short:         "Identify coins from photos with a calibrated diameter",
		Version:       coinid.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&sessionFlag, "session", "s", "", "Session ID (default \"cli\")")
	rootCmd.PersistentFlags().StringVar(&dbFlag, "db", "", "SQLite session database path")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")

	for _, cmd := range newCalibrationCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newIdentifyCommand(ctx))
	rootCmd.AddCommand(newSessionCommand(ctx))
	rootCmd.AddCommand(newBotCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}
