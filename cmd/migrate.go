package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/casebook/internal/database"
	"github.com/casebook/internal/jobqueue"
)

// MigrateCommand applies the schema and River's own migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := loadRuntime(c)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("nothing to migrate for database driver %q", cfg.Database.Driver)
			}

			ctx := c.Context
			db, err := database.NewDB(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.ApplyMigrations(ctx, db); err != nil {
				return err
			}

			pool, err := database.NewPool(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := jobqueue.Migrate(ctx, pool); err != nil {
				return err
			}

			log.Info().Msg("Migrations applied")
			return nil
		},
	}
}
