package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitAll(t *testing.T, a Awaiter, handles ...Handle) []Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	results := make([]Result, 0, len(handles))
	for _, h := range handles {
		res, err := a.Await(ctx, h)
		require.NoError(t, err)
		results = append(results, res)
	}
	return results
}

func TestFIFO_RunsInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int64

	runner := RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		mu.Lock()
		order = append(order, w.ExchangeID)
		mu.Unlock()
		return w.Prompt + "!", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewFIFO(runner, FIFOOptions{})
	f.Start(ctx)

	var handles []Handle
	for i := int64(1); i <= 5; i++ {
		h, err := f.Submit(ctx, Work{ExchangeID: i, Prompt: "q"})
		require.NoError(t, err)
		assert.Equal(t, "fifo", h.Kind())
		handles = append(handles, h)
	}

	for _, res := range awaitAll(t, f, handles...) {
		assert.Equal(t, Succeeded, res.State)
		assert.Equal(t, "q!", res.Output)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, order)
}

func TestFIFO_IsolatesFailures(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		switch w.ExchangeID {
		case 1:
			panic("boom")
		case 2:
			return "", errors.New("provider unavailable")
		}
		return "ok", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewFIFO(runner, FIFOOptions{})
	f.Start(ctx)

	h1, err := f.Submit(ctx, Work{ExchangeID: 1})
	require.NoError(t, err)
	h2, err := f.Submit(ctx, Work{ExchangeID: 2})
	require.NoError(t, err)
	h3, err := f.Submit(ctx, Work{ExchangeID: 3})
	require.NoError(t, err)

	results := awaitAll(t, f, h1, h2, h3)
	assert.Equal(t, Failed, results[0].State)
	assert.Contains(t, results[0].Error, "boom")
	assert.Equal(t, Failed, results[1].State)
	assert.Equal(t, "provider unavailable", results[1].Error)
	assert.Equal(t, Succeeded, results[2].State)
}

func TestFIFO_CancelQueuedWork(t *testing.T) {
	release := make(chan struct{})
	var ran sync.Map

	runner := RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		ran.Store(w.ExchangeID, true)
		if w.ExchangeID == 1 {
			<-release
		}
		return "done", nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewFIFO(runner, FIFOOptions{})
	f.Start(ctx)

	h1, err := f.Submit(ctx, Work{ExchangeID: 1})
	require.NoError(t, err)
	h2, err := f.Submit(ctx, Work{ExchangeID: 2})
	require.NoError(t, err)

	require.NoError(t, f.Cancel(ctx, h2))
	close(release)

	results := awaitAll(t, f, h1, h2)
	assert.Equal(t, Succeeded, results[0].State)
	assert.Equal(t, Failed, results[1].State)
	assert.Equal(t, "cancelled", results[1].Error)

	// The consumer skips the cancelled item, so wait for the queue to settle.
	h3, err := f.Submit(ctx, Work{ExchangeID: 3})
	require.NoError(t, err)
	awaitAll(t, f, h3)
	_, ranTwo := ran.Load(int64(2))
	assert.False(t, ranTwo)
}

func TestFIFO_PollAndRelease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := NewFIFO(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		return "answer", nil
	}), FIFOOptions{})
	f.Start(ctx)

	_, err := f.Poll(ctx, Handle("fifo:missing"))
	assert.ErrorIs(t, err, ErrUnknownHandle)

	h, err := f.Submit(ctx, Work{ExchangeID: 7})
	require.NoError(t, err)
	awaitAll(t, f, h)

	res, err := f.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, Result{State: Succeeded, Output: "answer"}, res)

	require.NoError(t, f.Release(ctx, h))
	_, err = f.Poll(ctx, h)
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestFIFO_FinishedWorkContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan context.Context, 1)
	f := NewFIFO(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		seen <- ctx
		return "answer", nil
	}), FIFOOptions{})
	f.Start(ctx)

	h, err := f.Submit(ctx, Work{ExchangeID: 7})
	require.NoError(t, err)
	awaitAll(t, f, h)
	require.NoError(t, f.Release(ctx, h))

	workCtx := <-seen
	assert.ErrorIs(t, workCtx.Err(), context.Canceled)
	assert.NoError(t, ctx.Err())
}

func TestFIFO_SubmitAfterClose(t *testing.T) {
	f := NewFIFO(RunnerFunc(func(ctx context.Context, w Work) (string, error) {
		return "", nil
	}), FIFOOptions{})
	f.Start(context.Background())
	f.Close()

	select {
	case <-f.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}

	_, err := f.Submit(context.Background(), Work{ExchangeID: 1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestWork_FullPrompt(t *testing.T) {
	assert.Equal(t, "question", Work{Prompt: "question"}.FullPrompt())
	assert.Equal(t, "be brief \nquestion", Work{System: "be brief", Prompt: "question"}.FullPrompt())
}

func TestHandle_Parts(t *testing.T) {
	h := Handle("river:42")
	assert.Equal(t, "river", h.Kind())
	assert.Equal(t, "42", h.ID())
	assert.Equal(t, "", Handle("bare").Kind())
	assert.Equal(t, "bare", Handle("bare").ID())
}
