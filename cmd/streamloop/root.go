package main

import (
	"log/slog"

	"github.com/martinemde/streamloop/internal/config"
	"github.com/martinemde/streamloop/internal/logging"
	"github.com/spf13/cobra"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string
	cfg        *config.Config[config.AppConfig]
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "streamloop",
		Short:         "Chat with a model that can run commands in your terminal",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")

	cmd.AddCommand(
		newChatCommand(opts),
		newModelsCommand(),
		newVersionCommand(),
	)
	return cmd
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.LoadApp(o.configPath)
	if err != nil {
		return err
	}
	app := cfg.Get()
	o.cfg = cfg
	o.logger = logging.New(cmd.ErrOrStderr(), logging.Options{Level: app.Log.Level, NoColor: app.Log.NoColor})
	slog.SetDefault(o.logger)

	cfg.OnChange(func(old, updated config.AppConfig) {
		o.logger.Info("configuration reloaded; changes apply to new sessions",
			"model", updated.Provider.Model, "previous_model", old.Provider.Model)
	})
	return nil
}
