package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/casebook/internal/completion"
	"github.com/casebook/internal/database"
	"github.com/casebook/internal/executor"
	"github.com/casebook/internal/jobqueue"
)

// WorkerCommand runs completions for the broker executors
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run completion workers for the river or redis executor",
		Action: func(c *cli.Context) error {
			cfg, err := loadRuntime(c)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runner, err := completion.New(cfg.AI)
			if err != nil {
				return fmt.Errorf("failed to create completion client: %w", err)
			}

			switch cfg.Executor.Kind {
			case "river":
				return runRiverWorker(ctx, cfg.Database.URL, jobqueue.QueueConfigFrom(cfg.Executor), runner)
			case "redis":
				client, err := redisClient(ctx, cfg)
				if err != nil {
					return err
				}
				defer client.Close()

				return executor.NewRedis(client, redisExecutorConfig(cfg)).NewWorker(runner).Run(ctx)
			default:
				return fmt.Errorf("executor %q runs inside the API process, no worker needed", cfg.Executor.Kind)
			}
		},
	}
}

func runRiverWorker(ctx context.Context, dbURL string, qc *jobqueue.QueueConfig, runner executor.Runner) error {
	pool, err := database.NewPool(ctx, dbURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	jq, err := jobqueue.NewJobQueue(pool, qc, runner)
	if err != nil {
		return err
	}
	if err := jq.Start(ctx); err != nil {
		return fmt.Errorf("failed to start River workers: %w", err)
	}
	log.Info().Int("max_workers", qc.MaxWorkers).Msg("River completion worker started")

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log.Info().Msg("Stopping River workers")
	return jq.Stop(stopCtx)
}
