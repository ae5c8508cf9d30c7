package main

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/ledgerline/filings-orchestrator/config"
)

func migrateCmd() *cobra.Command {
	var cfgPath, dir, direction string
	var steps int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Database.MigrationsPath
			}
			m, err := migrate.New(dir, cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("open migrator: %w", err)
			}
			switch direction {
			case "up":
				if steps > 0 {
					return m.Steps(steps)
				}
				return ignoreNoChange(m.Up())
			case "down":
				if steps > 0 {
					return m.Steps(-steps)
				}
				return ignoreNoChange(m.Down())
			default:
				return fmt.Errorf("unknown direction %q, want up or down", direction)
			}
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&dir, "dir", "", "migrations source, default from config (file://migrations)")
	cmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	cmd.Flags().IntVar(&steps, "steps", 0, "number of steps, 0 applies all pending")
	return cmd
}

func ignoreNoChange(err error) error {
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}
