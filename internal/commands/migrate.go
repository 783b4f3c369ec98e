package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"homebuh/internal/config"
	"homebuh/internal/storage"
)

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides SQLITE_DB_PATH)")

	resolve := func(cmd *cobra.Command) (string, error) {
		cfg, logger, err := bootstrap(cmd, func(cfg *config.Config) {
			cfg.DataBackend = "sqlite"
			if dbPath != "" {
				cfg.SQLiteDBPath = dbPath
			}
		})
		if err != nil {
			return "", err
		}
		logger.Debug("Using database", "db_path", cfg.SQLiteDBPath)
		return cfg.SQLiteDBPath, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve(cmd)
			if err != nil {
				return err
			}
			if err := storage.RunMigrations(path); err != nil {
				return err
			}
			return printVersion(cmd, path)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert migrations (all of them unless --steps is set)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve(cmd)
			if err != nil {
				return err
			}
			if err := storage.RollbackMigrations(path, steps); err != nil {
				return err
			}
			return printVersion(cmd, path)
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to revert")

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolve(cmd)
			if err != nil {
				return err
			}
			return printVersion(cmd, path)
		},
	}

	cmd.AddCommand(up, down, version)
	return cmd
}

func printVersion(cmd *cobra.Command, path string) error {
	v, dirty, err := storage.MigrationVersion(path)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", v)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
	return nil
}
