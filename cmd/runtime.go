package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/casebook/internal/completion"
	"github.com/casebook/internal/config"
	"github.com/casebook/internal/database"
	"github.com/casebook/internal/executor"
	"github.com/casebook/internal/jobqueue"
	"github.com/casebook/internal/logging"
	"github.com/casebook/internal/store"
)

// loadRuntime reads .env files and the configuration, validates it and
// sets up logging. Every long-running command starts here.
func loadRuntime(c *cli.Context) (*config.Config, error) {
	if err := LoadEnvFiles(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// openStore returns the configured store and a function that closes it
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		log.Warn().Msg("Using the in-memory store, nothing will survive a restart")
		return store.NewMemory(), func() {}, nil
	}

	db, err := database.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgres(db), func() { db.Close() }, nil
}

func redisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func redisExecutorConfig(cfg *config.Config) executor.RedisConfig {
	return executor.RedisConfig{
		Stream:       cfg.Redis.Stream,
		Group:        cfg.Redis.Group,
		Consumer:     cfg.Redis.Consumer,
		ResultTTL:    cfg.Executor.ResultTTL,
		JobTimeout:   cfg.Executor.JobTimeout,
		ClaimMinIdle: cfg.Redis.ClaimMinIdle,
	}
}

// buildExecutor creates the executor the API process submits to. The
// broker strategies only enqueue here; the in-process ones also run the
// completions and therefore need a provider client.
func buildExecutor(ctx context.Context, cfg *config.Config) (executor.Executor, func(), error) {
	switch cfg.Executor.Kind {
	case "river":
		pool, err := database.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, err
		}
		jq, err := jobqueue.NewJobQueue(pool, jobqueue.QueueConfigFrom(cfg.Executor), nil)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return jq, pool.Close, nil

	case "redis":
		client, err := redisClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return executor.NewRedis(client, redisExecutorConfig(cfg)), func() { client.Close() }, nil

	case "fifo":
		runner, err := completion.New(cfg.AI)
		if err != nil {
			return nil, nil, err
		}
		fifo := executor.NewFIFO(runner, executor.FIFOOptions{
			JobTimeout: cfg.Executor.JobTimeout,
			ResultTTL:  cfg.Executor.ResultTTL,
		})
		fifo.Start(ctx)
		return fifo, fifo.Close, nil

	case "pool":
		runner, err := completion.New(cfg.AI)
		if err != nil {
			return nil, nil, err
		}
		pool := executor.NewPool(runner, executor.PoolOptions{
			Size:       cfg.Executor.PoolSize,
			JobTimeout: cfg.Executor.JobTimeout,
			ResultTTL:  cfg.Executor.ResultTTL,
		})
		return pool, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown executor kind %q", cfg.Executor.Kind)
	}
}
