package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/casebook/internal/api"
	"github.com/casebook/internal/api/auth"
	"github.com/casebook/internal/exchange"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the casebook API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadRuntime(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			exec, closeExec, err := buildExecutor(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeExec()

			svc := exchange.NewService(st, exec, exchange.AllowList(cfg.AI.ModelNames()), exchange.Options{
				AwaitInline:     cfg.Executor.AwaitInline,
				StaleAfter:      cfg.Executor.StaleAfter,
				MaxContextChars: cfg.AI.MaxContextChars,
			})

			port := cfg.Server.Port
			if c.IsSet("port") {
				port = c.Int("port")
			}

			log.Info().
				Int("port", port).
				Str("executor", exec.Name()).
				Str("database", cfg.Database.Driver).
				Msg("Starting casebook API server")

			server := api.NewServer(port, api.Deps{
				Store:       st,
				Exchanges:   svc,
				Tokens:      auth.NewTokenService(cfg.Server.JWTSecret, cfg.Server.TokenTTL),
				CORSOrigins: cfg.Server.CORSOrigins,
			})
			return server.Start(ctx)
		},
	}
}
