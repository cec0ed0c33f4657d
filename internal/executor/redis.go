package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig describes the stream, consumer group and result keys used by
// the redis broker.
type RedisConfig struct {
	Stream     string        // stream work is appended to
	Group      string        // consumer group shared by workers
	Consumer   string        // this worker's consumer name
	KeyPrefix  string        // prefix of per-task result hashes
	ResultTTL  time.Duration // how long a result hash survives
	Block      time.Duration // how long a worker read blocks; negative means do not block
	BatchSize  int64         // messages per read
	JobTimeout time.Duration // upper bound for one completion

	// ClaimMinIdle is how long a delivered message may stay unacknowledged
	// before another consumer takes it over.
	ClaimMinIdle time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	if c.Stream == "" {
		c.Stream = "casebook:completions"
	}
	if c.Group == "" {
		c.Group = "casebook-workers"
	}
	if c.Consumer == "" {
		c.Consumer = "worker-" + uuid.NewString()[:8]
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "casebook:task:"
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
	if c.Block == 0 {
		c.Block = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = 10 * time.Minute
		if c.JobTimeout > 0 {
			c.ClaimMinIdle = c.JobTimeout + time.Minute
		}
	}
	return c
}

// settleScript writes an outcome only while the task is still pending.
var settleScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'state') == 'pending' then
	redis.call('HSET', KEYS[1], 'state', ARGV[1], 'output', ARGV[2], 'error', ARGV[3])
	return 1
end
return 0
`)

// Redis hands work to a worker fleet through a redis stream and keeps each
// task's state in a hash that Poll reads.
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
}

func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	return &Redis{client: client, cfg: cfg.withDefaults()}
}

func (r *Redis) Name() string { return "redis" }

func (r *Redis) resultKey(id string) string {
	return r.cfg.KeyPrefix + id
}

func (r *Redis) Submit(ctx context.Context, w Work) (Handle, error) {
	id := uuid.NewString()
	key := r.resultKey(id)

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, "state", Pending.String(), "exchange_id", w.ExchangeID)
	pipe.Expire(ctx, key, r.cfg.ResultTTL)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]any{
			"task_id":     id,
			"exchange_id": w.ExchangeID,
			"model":       w.Model,
			"system":      w.System,
			"prompt":      w.Prompt,
		},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return NoHandle, fmt.Errorf("failed to enqueue completion: %w", err)
	}

	h := newHandle(r.Name(), id)
	log.Debug().
		Str("handle", string(h)).
		Int64("exchange_id", w.ExchangeID).
		Str("stream", r.cfg.Stream).
		Msg("Enqueued completion")
	return h, nil
}

func (r *Redis) Poll(ctx context.Context, h Handle) (Result, error) {
	if h.Kind() != r.Name() {
		return Result{}, ErrUnknownHandle
	}

	vals, err := r.client.HGetAll(ctx, r.resultKey(h.ID())).Result()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read task state: %w", err)
	}
	if len(vals) == 0 {
		return Result{}, ErrUnknownHandle
	}

	switch vals["state"] {
	case Pending.String():
		return Result{State: Pending}, nil
	case Succeeded.String():
		return Result{State: Succeeded, Output: vals["output"]}, nil
	case Failed.String():
		return Result{State: Failed, Error: vals["error"]}, nil
	default:
		return Result{}, fmt.Errorf("unexpected task state %q", vals["state"])
	}
}

// Cancel marks a pending task failed. A worker that picks it up afterwards
// skips it.
func (r *Redis) Cancel(ctx context.Context, h Handle) error {
	if h.Kind() != r.Name() {
		return ErrUnknownHandle
	}
	_, err := r.settle(ctx, h.ID(), Result{State: Failed, Error: "cancelled"})
	return err
}

func (r *Redis) Release(ctx context.Context, h Handle) error {
	if h.Kind() != r.Name() {
		return ErrUnknownHandle
	}
	return r.client.Del(ctx, r.resultKey(h.ID())).Err()
}

func (r *Redis) settle(ctx context.Context, id string, res Result) (bool, error) {
	n, err := settleScript.Run(ctx, r.client, []string{r.resultKey(id)},
		res.State.String(), res.Output, res.Error).Int()
	if err != nil {
		return false, fmt.Errorf("failed to record task result: %w", err)
	}
	return n == 1, nil
}

func (r *Redis) pending(ctx context.Context, id string) (bool, error) {
	state, err := r.client.HGet(ctx, r.resultKey(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return state == Pending.String(), nil
}

func parseStreamWork(msg redis.XMessage) (string, Work, error) {
	str := func(key string) string {
		if v, ok := msg.Values[key]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}

	id := str("task_id")
	if id == "" {
		return "", Work{}, fmt.Errorf("missing task_id")
	}
	exchangeID, err := strconv.ParseInt(str("exchange_id"), 10, 64)
	if err != nil {
		return "", Work{}, fmt.Errorf("parsing exchange_id: %w", err)
	}

	return id, Work{
		ExchangeID: exchangeID,
		Model:      str("model"),
		System:     str("system"),
		Prompt:     str("prompt"),
	}, nil
}

// RedisWorker consumes the stream written by Redis.Submit. A message is
// acknowledged only once its outcome is stored; messages left pending by a
// failed attempt or a crashed consumer are reclaimed after ClaimMinIdle.
type RedisWorker struct {
	broker *Redis
	runner Runner

	mu      sync.Mutex
	grouped bool
}

func (r *Redis) NewWorker(runner Runner) *RedisWorker {
	return &RedisWorker{broker: r, runner: runner}
}

func (w *RedisWorker) ensureGroup(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.grouped {
		return nil
	}

	cfg := w.broker.cfg
	err := w.broker.client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	w.grouped = true
	return nil
}

// Run processes the stream until ctx is done.
func (w *RedisWorker) Run(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}

	log.Info().
		Str("stream", w.broker.cfg.Stream).
		Str("group", w.broker.cfg.Group).
		Str("consumer", w.broker.cfg.Consumer).
		Dur("claim_min_idle", w.broker.cfg.ClaimMinIdle).
		Msg("Redis completion worker started")

	for {
		if ctx.Err() != nil {
			log.Info().Msg("Redis completion worker stopping")
			return nil
		}
		if _, err := w.ProcessBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Failed to process completion batch")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessBatch first takes over messages that have been pending longer than
// ClaimMinIdle, then reads one batch of new messages. It returns the number
// of messages acknowledged.
func (w *RedisWorker) ProcessBatch(ctx context.Context) (int, error) {
	if err := w.ensureGroup(ctx); err != nil {
		return 0, err
	}
	cfg := w.broker.cfg

	handled := 0
	claimed, err := w.reclaim(ctx)
	if err != nil {
		log.Warn().Err(err).Str("stream", cfg.Stream).Msg("Failed to reclaim idle completion messages")
	} else {
		n, err := w.handle(ctx, claimed)
		handled += n
		if err != nil {
			return handled, err
		}
	}

	streams, err := w.broker.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		Streams:  []string{cfg.Stream, ">"},
		Count:    cfg.BatchSize,
		Block:    cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return handled, nil
		}
		return handled, fmt.Errorf("reading from stream: %w", err)
	}

	for _, stream := range streams {
		n, err := w.handle(ctx, stream.Messages)
		handled += n
		if err != nil {
			return handled, err
		}
	}
	return handled, nil
}

func (w *RedisWorker) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	cfg := w.broker.cfg
	msgs, _, err := w.broker.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   cfg.Stream,
		Group:    cfg.Group,
		Consumer: cfg.Consumer,
		MinIdle:  cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    cfg.BatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if len(msgs) > 0 {
		log.Info().
			Int("count", len(msgs)).
			Str("stream", cfg.Stream).
			Msg("Reclaimed idle completion messages")
	}
	return msgs, nil
}

// handle processes and acknowledges msgs. A message whose outcome could not
// be stored stays pending so it is retried once it has been idle long enough.
func (w *RedisWorker) handle(ctx context.Context, msgs []redis.XMessage) (int, error) {
	cfg := w.broker.cfg
	handled := 0
	for _, msg := range msgs {
		if err := w.process(ctx, msg); err != nil {
			log.Warn().Err(err).Str("message_id", msg.ID).Msg("Leaving completion message unacknowledged")
			continue
		}
		if err := w.broker.client.XAck(ctx, cfg.Stream, cfg.Group, msg.ID).Err(); err != nil {
			return handled, fmt.Errorf("xack (stream=%s): %w", cfg.Stream, err)
		}
		handled++
	}
	return handled, nil
}

// process runs one message. It returns an error only when the message must
// be retried; malformed and no longer pending messages are done with.
func (w *RedisWorker) process(ctx context.Context, msg redis.XMessage) error {
	id, work, err := parseStreamWork(msg)
	if err != nil {
		log.Error().Err(err).Str("message_id", msg.ID).Msg("Dropping malformed completion message")
		return nil
	}

	h := newHandle(w.broker.Name(), id)
	pending, err := w.broker.pending(ctx, id)
	if err != nil {
		return fmt.Errorf("reading state of %s: %w", h, err)
	}
	if !pending {
		log.Info().Str("handle", string(h)).Msg("Skipping task that is no longer pending")
		return nil
	}

	runCtx := ctx
	if w.broker.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.broker.cfg.JobTimeout)
		defer cancel()
	}

	res := execute(runCtx, w.runner, h, work)
	if _, err := w.broker.settle(ctx, id, res); err != nil {
		return fmt.Errorf("storing result of %s: %w", h, err)
	}
	return nil
}
