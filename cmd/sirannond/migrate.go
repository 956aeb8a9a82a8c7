package main

import (
	"github.com/spf13/cobra"

	"github.com/assetcorp/sirannon/internal/migration"
	"github.com/assetcorp/sirannon/internal/pool"
)

func newMigrateCommand() *cobra.Command {
	var readPoolSize int
	var walMode bool

	cmd := &cobra.Command{
		Use:   "migrate <db-path> <migrations-dir>",
		Short: "Apply pending migrations to a single database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dir := args[0], args[1]

			p, err := pool.Open(cmd.Context(), pool.Options{
				Path: dbPath, ReadPoolSize: readPoolSize, WALMode: walMode,
			})
			if err != nil {
				return err
			}
			defer p.Close()

			runner := migration.NewRunner(p, migration.RunnerOptions{})
			result, err := runner.Migrate(cmd.Context(), dir)
			if err != nil {
				return err
			}

			cmd.Printf("Applied %d migration(s), skipped %d already-applied\n", len(result.Applied), result.Skipped)
			for _, rec := range result.Applied {
				cmd.Printf("  - %04d_%s\n", rec.Version, rec.Name)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&readPoolSize, "read-pool-size", 1, "reader pool size")
	cmd.Flags().BoolVar(&walMode, "wal", true, "open in WAL mode")

	return cmd
}
