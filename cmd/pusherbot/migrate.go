package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, done, err := setup()
		if err != nil {
			return err
		}
		defer done()

		zap.S().Infow("migrating data store", "config", cfg.String())
		defer zap.S().Info("db migrated")

		s, err := openStore(context.Background(), cfg)
		if err != nil {
			return err
		}
		return s.Close()
	},
}
