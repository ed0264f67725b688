package main

import (
	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations for the gateway and worker",
		Long: `migrate connects with the same DB_* settings as the gateway and applies the
embedded SQL migrations. Use --status to list them without applying anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := database.InitFromConfig(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if status {
				return database.MigrationStatus(cmd.Context(), db, cmd.OutOrStdout())
			}

			a.log.WithField("database", cfg.Database.DBName).Info("Applying migrations")
			if err := database.RunMigrations(cmd.Context(), db, cmd.OutOrStdout()); err != nil {
				return err
			}
			a.log.Info("Migrations complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Only show which migrations are applied")
	return cmd
}
