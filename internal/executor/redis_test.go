package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	broker := NewRedis(client, RedisConfig{
		Stream:    "test:completions",
		Group:     "test-workers",
		Consumer:  "test-1",
		KeyPrefix: "test:task:",
		ResultTTL: time.Minute,
		Block:     -1,
	})
	return mr, broker
}

func TestRedis_SubmitThenWorkerCompletes(t *testing.T) {
	mr, broker := newTestRedis(t)
	ctx := context.Background()

	h, err := broker.Submit(ctx, Work{ExchangeID: 9, Model: "gpt-4", System: "sys", Prompt: "What is X?"})
	require.NoError(t, err)
	assert.Equal(t, "redis", h.Kind())
	assert.True(t, mr.Exists("test:task:"+h.ID()))

	res, err := broker.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Pending, res.State)

	var got Work
	worker := broker.NewWorker(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		got = w
		return "Answer text", nil
	}))

	n, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, Work{ExchangeID: 9, Model: "gpt-4", System: "sys", Prompt: "What is X?"}, got)

	res, err = broker.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Result{State: Succeeded, Output: "Answer text"}, res)

	// Nothing left to read once acknowledged.
	n, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRedis_FailureIsRecorded(t *testing.T) {
	_, broker := newTestRedis(t)
	ctx := context.Background()

	h, err := broker.Submit(ctx, Work{ExchangeID: 1, Prompt: "q"})
	require.NoError(t, err)

	worker := broker.NewWorker(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		return "", errors.New("model overloaded")
	}))
	_, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)

	res, err := broker.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Failed, res.State)
	assert.Equal(t, "model overloaded", res.Error)
}

func TestRedis_CancelledTaskIsSkipped(t *testing.T) {
	_, broker := newTestRedis(t)
	ctx := context.Background()

	h, err := broker.Submit(ctx, Work{ExchangeID: 1, Prompt: "q"})
	require.NoError(t, err)
	require.NoError(t, broker.Cancel(ctx, h))

	called := false
	worker := broker.NewWorker(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		called = true
		return "late", nil
	}))
	n, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, called)

	res, err := broker.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Result{State: Failed, Error: "cancelled"}, res)
}

func TestRedis_UnknownAndReleasedHandles(t *testing.T) {
	mr, broker := newTestRedis(t)
	ctx := context.Background()

	_, err := broker.Poll(ctx, Handle("redis:nope"))
	assert.ErrorIs(t, err, ErrUnknownHandle)
	_, err = broker.Poll(ctx, Handle("fifo:abc"))
	assert.ErrorIs(t, err, ErrUnknownHandle)

	h, err := broker.Submit(ctx, Work{ExchangeID: 1, Prompt: "q"})
	require.NoError(t, err)
	require.NoError(t, broker.Release(ctx, h))
	assert.False(t, mr.Exists("test:task:"+h.ID()))

	_, err = broker.Poll(ctx, h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestRedis_ResultExpires(t *testing.T) {
	mr, broker := newTestRedis(t)
	ctx := context.Background()

	h, err := broker.Submit(ctx, Work{ExchangeID: 1, Prompt: "q"})
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	_, err = broker.Poll(ctx, h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

// commandHook counts commands by name and can fail the next few of a kind.
type commandHook struct {
	mu   sync.Mutex
	seen map[string]int
	fail map[string]int
}

func newCommandHook() *commandHook {
	return &commandHook{seen: map[string]int{}, fail: map[string]int{}}
}

func (h *commandHook) failNext(name string, times int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[name] = times
}

func (h *commandHook) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[name]
}

func (h *commandHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *commandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		h.seen[cmd.Name()]++
		fail := h.fail[cmd.Name()] > 0
		if fail {
			h.fail[cmd.Name()]--
		}
		h.mu.Unlock()

		if fail {
			err := errors.New("connection reset by peer")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *commandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func pendingCount(t *testing.T, broker *Redis) int64 {
	t.Helper()
	p, err := broker.client.XPending(context.Background(), broker.cfg.Stream, broker.cfg.Group).Result()
	require.NoError(t, err)
	return p.Count
}

func TestRedis_StateReadFailureLeavesMessageForRetry(t *testing.T) {
	mr, broker := newTestRedis(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mr.SetTime(start)

	h, err := broker.Submit(ctx, Work{ExchangeID: 4, Prompt: "q"})
	require.NoError(t, err)

	hook := newCommandHook()
	hook.failNext("hget", 1)
	broker.client.AddHook(hook)

	ran := 0
	worker := broker.NewWorker(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		ran++
		return "Answer text", nil
	}))

	n, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, ran)
	assert.Equal(t, int64(1), pendingCount(t, broker))

	// Too early to take the message back.
	n, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, ran)

	mr.SetTime(start.Add(11 * time.Minute))
	n, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ran)
	assert.Equal(t, int64(0), pendingCount(t, broker))

	res, err := broker.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Result{State: Succeeded, Output: "Answer text"}, res)
}

func TestRedis_ReclaimsMessagesOfCrashedConsumer(t *testing.T) {
	mr, broker := newTestRedis(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mr.SetTime(start)

	h, err := broker.Submit(ctx, Work{ExchangeID: 5, Prompt: "q"})
	require.NoError(t, err)

	// Another consumer reads the message and dies before acknowledging it.
	require.NoError(t, broker.client.XGroupCreateMkStream(ctx, broker.cfg.Stream, broker.cfg.Group, "0").Err())
	streams, err := broker.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    broker.cfg.Group,
		Consumer: "crashed-1",
		Streams:  []string{broker.cfg.Stream, ">"},
		Count:    10,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)

	var got Work
	worker := broker.NewWorker(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		got = w
		return "Recovered", nil
	}))

	n, err := worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mr.SetTime(start.Add(11 * time.Minute))
	n, err = worker.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(5), got.ExchangeID)
	assert.Equal(t, int64(0), pendingCount(t, broker))

	res, err := broker.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Result{State: Succeeded, Output: "Recovered"}, res)
}

func TestRedis_WorkerCreatesGroupOnce(t *testing.T) {
	_, broker := newTestRedis(t)
	ctx := context.Background()
	hook := newCommandHook()
	broker.client.AddHook(hook)

	worker := broker.NewWorker(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		return "ok", nil
	}))
	for i := 0; i < 3; i++ {
		_, err := worker.ProcessBatch(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, hook.count("xgroup"))
}

func TestRedisConfig_ClaimMinIdleOutlastsJobTimeout(t *testing.T) {
	assert.Equal(t, 10*time.Minute, RedisConfig{}.withDefaults().ClaimMinIdle)
	assert.Equal(t, 6*time.Minute, RedisConfig{JobTimeout: 5 * time.Minute}.withDefaults().ClaimMinIdle)
	assert.Equal(t, time.Minute, RedisConfig{ClaimMinIdle: time.Minute}.withDefaults().ClaimMinIdle)
}
