package main

import (
	"github.com/spf13/cobra"

	"github.com/assetcorp/sirannon/internal/backup"
	"github.com/assetcorp/sirannon/internal/pool"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <db-path> <dest-path>",
		Short: "Run a one-shot online backup of a single database file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dest := args[0], args[1]

			p, err := pool.Open(cmd.Context(), pool.Options{Path: dbPath, ReadPoolSize: 1, WALMode: true})
			if err != nil {
				return err
			}
			defer p.Close()

			writer, err := p.AcquireWriter()
			if err != nil {
				return err
			}

			manager := backup.NewManager(dbPath)
			if err := manager.Backup(cmd.Context(), writer, dest); err != nil {
				return err
			}

			cmd.Printf("Backed up %s -> %s\n", dbPath, dest)
			return nil
		},
	}
	return cmd
}
