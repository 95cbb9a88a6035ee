// Package initdb implements the `michimem init-db` maintenance command:
// creates the SQLite database, applies the schema, and lays out the
// reserved data_dir subdirectories named in spec §6's persisted-state
// layout. Grounded on the teacher's internal/cmd/migrate/migrate.go shape
// (a single-purpose cli.Command around one idempotent setup call),
// adapted from running SQL migrations against an external database to
// opening (and thereby schema-applying) the embedded SQLite store.
package initdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/chirino/michimem/internal/config"
	"github.com/chirino/michimem/internal/store"
)

var reservedMemoryDirs = []string{"diary", "insights", "knowledge", "shared"}

// Command returns the init-db sub-command.
func Command() *cli.Command {
	var dataDir string

	return &cli.Command{
		Name:  "init-db",
		Usage: "Create index.db and the reserved data_dir layout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "data-dir",
				Sources:     cli.EnvVars("MICHIMEM_DATA_DIR"),
				Destination: &dataDir,
				Usage:       "Directory to initialize",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(dataDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			log.Info("initializing data directory", "data_dir", cfg.DataDir)

			s, err := store.Open(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if err := s.Close(); err != nil {
				return fmt.Errorf("close store: %w", err)
			}

			for _, sub := range []string{"checkpoints", "archive"} {
				if err := os.MkdirAll(filepath.Join(cfg.DataDir, sub), 0o700); err != nil {
					return fmt.Errorf("create %s: %w", sub, err)
				}
			}
			for _, kind := range reservedMemoryDirs {
				if err := os.MkdirAll(filepath.Join(cfg.DataDir, "memories", kind), 0o700); err != nil {
					return fmt.Errorf("create memories/%s: %w", kind, err)
				}
			}

			log.Info("data directory ready")
			return nil
		},
	}
}
