// Command charterctl runs maintenance tasks against a charter database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"charter/api/internal/config"
)

func newRootCmd(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "charterctl",
		Short:         "Family charter maintenance commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "Postgres connection string")
	root.PersistentFlags().StringVar(&cfg.MigrationsDir, "migrations", cfg.MigrationsDir, "directory of .sql migrations")

	root.AddCommand(
		newMigrateCmd(&cfg),
		newCatalogCmd(),
		newReportCmd(&cfg),
	)
	return root
}

func main() {
	if err := newRootCmd(config.Load()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
