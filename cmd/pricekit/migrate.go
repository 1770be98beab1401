package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rushteam/pricekit/registry"
)

func newMigrateCmd(a *app) *cobra.Command {
	var dialect, dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the SQL tracking store tables",
		Long: `Apply the embedded migrations to a SQL tracking store.

Defaults to tracking.backend and tracking.dsn from the config.

Examples:
  pricekit migrate --dialect sqlite --dsn ./mlflow.db
  pricekit migrate --dialect postgres --dsn postgres://mlflow@localhost/mlflow?sslmode=disable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dialect == "" {
				dialect = a.cfg.Tracking.Backend
			}
			if dsn == "" {
				dsn = a.cfg.Tracking.DSN
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or tracking.dsn is required")
			}
			if err := registry.Migrate(cmd.Context(), dialect, dsn); err != nil {
				return err
			}
			a.logger.Info("migrations applied", zap.String("dialect", dialect))
			return nil
		},
	}
	cmd.Flags().StringVar(&dialect, "dialect", "", "sqlite or postgres")
	cmd.Flags().StringVar(&dsn, "dsn", "", "sqlite file path or postgres connection string")
	return cmd
}
