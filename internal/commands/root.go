// Package commands holds the homebuh cobra command tree.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"homebuh/internal/buildinfo"
	"homebuh/internal/cli"
	"homebuh/internal/config"
	"homebuh/internal/log"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:     "homebuh",
		Short:   "Household accounts, postings and atomic transfers",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				cli.LoadEnvFile(envFile)
			} else {
				cli.LoadEnvFile()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env)")

	rootCmd.AddCommand(
		newServeCommand(),
		newWorkerCommand(),
		newMigrateCommand(),
		newTransferCommand(),
		newAccountsCommand(),
		newSheetsAuthCommand(),
	)

	return rootCmd
}

// bootstrap loads and validates configuration and builds the logger. Logs
// go to the command's stderr so stdout carries only command output.
func bootstrap(cmd *cobra.Command, overrides ...func(*config.Config)) (*config.Config, *log.Logger, error) {
	cfg, err := cli.LoadAndValidateConfig(overrides...)
	if err != nil {
		return nil, nil, err
	}
	return cfg, cli.SetupLogger(cfg, cmd.ErrOrStderr()), nil
}

// dbOverride switches to the sqlite backend at path when path is set.
func dbOverride(path string) func(*config.Config) {
	return func(cfg *config.Config) {
		if path != "" {
			cfg.DataBackend = "sqlite"
			cfg.SQLiteDBPath = path
		}
	}
}
