package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/porteria/backend/config"
	"github.com/porteria/backend/pkg/database"
	"github.com/porteria/backend/pkg/logger"
)

func newMigrateCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				names, err := database.MigrationNames()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(logger.Options{Level: cfg.Log.Level})
			defer log.Sync()

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), 2, log)
			if err != nil {
				return fmt.Errorf("database: %w", err)
			}
			defer pool.Close()
			if err := database.Migrate(ctx, pool, log); err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("database", cfg.Database.DBName))
			return nil
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "print the embedded migrations without connecting")
	return cmd
}
