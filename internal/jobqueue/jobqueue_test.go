package jobqueue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebook/internal/config"
	"github.com/casebook/internal/database"
	"github.com/casebook/internal/executor"
)

func TestCompletionJobArgs(t *testing.T) {
	args := CompletionJobArgs{ExchangeID: 4, Model: "gpt-4", System: "sys", Prompt: "q"}
	assert.Equal(t, "exchange_completion", args.Kind())

	opts := args.InsertOpts()
	assert.Equal(t, 1, opts.MaxAttempts)
	assert.Equal(t, QueueCompletions, opts.Queue)

	assert.Equal(t, executor.Work{ExchangeID: 4, Model: "gpt-4", System: "sys", Prompt: "q"}, args.work())
}

func TestQueueConfigFrom(t *testing.T) {
	qc := QueueConfigFrom(config.ExecutorConfig{})
	assert.Equal(t, DefaultQueueConfig(), qc)

	qc = QueueConfigFrom(config.ExecutorConfig{MaxWorkers: 3, JobTimeout: time.Minute})
	assert.Equal(t, 3, qc.MaxWorkers)
	assert.Equal(t, time.Minute, qc.JobTimeout)
	assert.Equal(t, 3, qc.RiverQueueConfig()[QueueCompletions].MaxWorkers)
}

func TestJobHandleRoundTrip(t *testing.T) {
	h := jobHandle(1234)
	assert.Equal(t, executor.Handle("river:1234"), h)

	id, err := jobID(h)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), id)

	_, err = jobID(executor.Handle("redis:1234"))
	assert.ErrorIs(t, err, executor.ErrUnknownHandle)
	_, err = jobID(executor.Handle("river:abc"))
	assert.ErrorIs(t, err, executor.ErrUnknownHandle)
}

func TestResultFromJob(t *testing.T) {
	tests := []struct {
		name string
		job  *rivertype.JobRow
		want executor.Result
	}{
		{
			name: "available",
			job:  &rivertype.JobRow{State: rivertype.JobStateAvailable},
			want: executor.Result{State: executor.Pending},
		},
		{
			name: "running",
			job:  &rivertype.JobRow{State: rivertype.JobStateRunning},
			want: executor.Result{State: executor.Pending},
		},
		{
			name: "retryable",
			job:  &rivertype.JobRow{State: rivertype.JobStateRetryable},
			want: executor.Result{State: executor.Pending},
		},
		{
			name: "completed",
			job: &rivertype.JobRow{
				State:    rivertype.JobStateCompleted,
				Metadata: []byte(`{"output":{"reply":"Answer text"}}`),
			},
			want: executor.Result{State: executor.Succeeded, Output: "Answer text"},
		},
		{
			name: "completed without output",
			job:  &rivertype.JobRow{State: rivertype.JobStateCompleted, Metadata: []byte(`{}`)},
			want: executor.Result{State: executor.Failed, Error: "completed job has no recorded output"},
		},
		{
			name: "discarded",
			job: &rivertype.JobRow{
				State: rivertype.JobStateDiscarded,
				Errors: []rivertype.AttemptError{
					{Attempt: 1, Error: "completion failed: model overloaded"},
				},
			},
			want: executor.Result{State: executor.Failed, Error: "completion failed: model overloaded"},
		},
		{
			name: "cancelled",
			job:  &rivertype.JobRow{State: rivertype.JobStateCancelled},
			want: executor.Result{State: executor.Failed, Error: "cancelled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resultFromJob(tt.job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := resultFromJob(&rivertype.JobRow{State: rivertype.JobState("mystery")})
	assert.Error(t, err)
}

func TestJobQueue_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping database integration test")
	}
	dbURL := os.Getenv("CASEBOOK_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("CASEBOOK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, dbURL)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, Migrate(ctx, pool))

	runner := executor.RunnerFunc(func(ctx context.Context, w executor.Work) (string, error) {
		if w.Prompt == "fail" {
			return "", errors.New("model overloaded")
		}
		return "reply to " + w.Prompt, nil
	})

	producer, err := NewJobQueue(pool, nil, nil)
	require.NoError(t, err)
	worker, err := NewJobQueue(pool, &QueueConfig{MaxWorkers: 2, JobTimeout: 10 * time.Second}, runner)
	require.NoError(t, err)
	require.NoError(t, worker.Start(ctx))
	defer worker.Stop(context.Background())

	okHandle, err := producer.Submit(ctx, executor.Work{ExchangeID: 1, Model: "gpt-4", Prompt: "hello"})
	require.NoError(t, err)
	failHandle, err := producer.Submit(ctx, executor.Work{ExchangeID: 2, Model: "gpt-4", Prompt: "fail"})
	require.NoError(t, err)

	waitFor := func(h executor.Handle) executor.Result {
		for {
			res, err := producer.Poll(ctx, h)
			require.NoError(t, err)
			if res.State != executor.Pending {
				return res
			}
			select {
			case <-ctx.Done():
				t.Fatalf("job %s did not finish", h)
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	assert.Equal(t, executor.Result{State: executor.Succeeded, Output: "reply to hello"}, waitFor(okHandle))
	failed := waitFor(failHandle)
	assert.Equal(t, executor.Failed, failed.State)
	assert.Contains(t, failed.Error, "model overloaded")

	_, err = producer.Poll(ctx, jobHandle(1<<40))
	assert.ErrorIs(t, err, executor.ErrUnknownHandle)
}
