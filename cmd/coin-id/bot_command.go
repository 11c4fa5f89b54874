package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/menta2k/coin-id/internal/bot"
)

func newBotCommand(ctx *commandContext) *cobra.Command {
	var noIdentify bool

	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Long: `Bot serves the calibration and identification flow over Telegram. The
token is read from TELEGRAM_TOKEN (environment or .env). Every chat keeps its
own session in the configured session store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			repo, err := ctx.repository()
			if err != nil {
				return err
			}

			var identifier bot.Identifier
			if !noIdentify {
				id, err := newIdentifier(cmd.Context(), cfg, ctx.log())
				if err != nil {
					return fmt.Errorf("create identifier: %w", err)
				}
				identifier = id
			}

			tg, err := bot.NewTelegram(cfg.Secrets.TelegramToken, cfg.Bot.Debug)
			if err != nil {
				return err
			}

			return bot.New(tg, repo, identifier, cfg, ctx.log()).Run(cmd.Context(), tg)
		},
	}

	cmd.Flags().BoolVar(&noIdentify, "calibration-only", false, "Serve calibration commands only, without a vision backend")
	return cmd
}
