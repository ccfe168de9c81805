package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seikyu-ai/seikyubot/internal/config"
	"github.com/seikyu-ai/seikyubot/internal/db"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "seikyubot",
		Short:         "Chat-driven invoice drafting bot for Lark",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config.toml (defaults to $CONFIG_PATH)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server, draft API and timeout sweeper",
		Run: func(cmd *cobra.Command, args []string) {
			runServe(resolveConfigPath(cfgPath))
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath(cfgPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return db.Migrate(cfg.Postgres)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("CONFIG_PATH")
}
