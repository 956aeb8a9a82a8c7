package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/assetcorp/sirannon/internal/config"
	"github.com/assetcorp/sirannon/internal/pool"
)

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database administration",
	}

	cmd.AddCommand(runDBListCommand())
	cmd.AddCommand(runDBVacuumCommand())
	return cmd
}

func runDBListCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List database files under the data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := dataDir
			if dir == "" {
				cfg, err := config.Load(flagConfigFile)
				if err != nil {
					return err
				}
				dir = cfg.DataDir
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}

			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
					continue
				}
				cmd.Println(strings.TrimSuffix(entry.Name(), ".db"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	return cmd
}

func runDBVacuumCommand() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "vacuum <id>",
		Short: "Reclaim free space in one database file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			dir := dataDir
			if dir == "" {
				cfg, err := config.Load(flagConfigFile)
				if err != nil {
					return err
				}
				dir = cfg.DataDir
			}

			p, err := pool.Open(cmd.Context(), pool.Options{
				Path: filepath.Join(dir, id+".db"), ReadPoolSize: 1, WALMode: true,
			})
			if err != nil {
				return err
			}
			defer p.Close()

			writer, err := p.AcquireWriter()
			if err != nil {
				return err
			}
			if _, err := writer.Execute(cmd.Context(), "VACUUM", nil); err != nil {
				return err
			}

			cmd.Printf("Vacuumed %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	return cmd
}
