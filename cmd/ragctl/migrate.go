package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/rag-service/internal/adapter/postgres"
	"github.com/user/rag-service/pkg/config"
)

func migrateCMD() *cobra.Command {
	var direction string
	var steps int

	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.PostgresURL == "" {
				return fmt.Errorf("postgres not configured (POSTGRES_URL)")
			}
			if err := postgres.Migrate(cfg.PostgresURL, direction, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", direction)
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
