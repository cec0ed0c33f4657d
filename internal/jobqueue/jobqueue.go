/*
Package jobqueue runs exchange completions as River jobs on Postgres.

The API process uses an insert-only client: Submit inserts a job and Poll
reads its row back. Worker processes run the same client with workers
registered. Completed jobs carry the reply in their metadata output.
*/
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog/log"

	"github.com/casebook/internal/executor"
)

const handleKind = "river"

// CompletionJobArgs represents the arguments for a completion job
type CompletionJobArgs struct {
	ExchangeID int64  `json:"exchange_id"`
	Model      string `json:"model"`
	System     string `json:"system,omitempty"`
	Prompt     string `json:"prompt"`
}

// Kind returns the job kind for River
func (CompletionJobArgs) Kind() string {
	return "exchange_completion"
}

// InsertOpts makes every completion single-shot
func (CompletionJobArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 1,
		Queue:       QueueCompletions,
	}
}

func (a CompletionJobArgs) work() executor.Work {
	return executor.Work{ExchangeID: a.ExchangeID, Model: a.Model, System: a.System, Prompt: a.Prompt}
}

// completionOutput is recorded on the job row when the completion succeeds
type completionOutput struct {
	Reply string `json:"reply"`
}

// CompletionWorker handles completion jobs
type CompletionWorker struct {
	river.WorkerDefaults[CompletionJobArgs]
	runner executor.Runner
	config *QueueConfig
}

// Timeout bounds one completion
func (w *CompletionWorker) Timeout(job *river.Job[CompletionJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work performs the completion and records the reply as job output
func (w *CompletionWorker) Work(ctx context.Context, job *river.Job[CompletionJobArgs]) error {
	logger := log.With().
		Int64("job_id", job.ID).
		Int64("exchange_id", job.Args.ExchangeID).
		Str("model", job.Args.Model).
		Logger()

	logger.Info().Msg("Processing completion job")

	reply, err := w.runner.Complete(ctx, job.Args.work())
	if err != nil {
		logger.Warn().Err(err).Msg("Completion job failed")
		return fmt.Errorf("completion failed: %w", err)
	}

	if err := river.RecordOutput(ctx, completionOutput{Reply: reply}); err != nil {
		return fmt.Errorf("failed to record completion output: %w", err)
	}

	logger.Info().Int("reply_chars", len(reply)).Msg("Completion job finished")
	return nil
}

// JobQueue manages the River job queue
type JobQueue struct {
	client  *river.Client[pgx.Tx]
	pool    *pgxpool.Pool
	config  *QueueConfig
	working bool
}

// NewJobQueue creates a River client on pool. With a nil runner the client
// can only insert and inspect jobs; with a runner it also works them once
// Start is called.
func NewJobQueue(pool *pgxpool.Pool, config *QueueConfig, runner executor.Runner) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	riverConfig := &river.Config{}
	if runner != nil {
		workers := river.NewWorkers()
		river.AddWorker(workers, &CompletionWorker{runner: runner, config: config})
		riverConfig.Queues = config.RiverQueueConfig()
		riverConfig.Workers = workers
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{
		client:  client,
		pool:    pool,
		config:  config,
		working: runner != nil,
	}, nil
}

// Migrate applies River's own schema migrations
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create River migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("failed to migrate River schema: %w", err)
	}
	return nil
}

// Start starts the job queue workers
func (jq *JobQueue) Start(ctx context.Context) error {
	if !jq.working {
		return errors.New("job queue was created without a runner")
	}
	return jq.client.Start(ctx)
}

// Stop stops the job queue workers
func (jq *JobQueue) Stop(ctx context.Context) error {
	if !jq.working {
		return nil
	}
	return jq.client.Stop(ctx)
}

func (jq *JobQueue) Name() string { return handleKind }

// Submit inserts a completion job and returns its handle
func (jq *JobQueue) Submit(ctx context.Context, w executor.Work) (executor.Handle, error) {
	args := CompletionJobArgs{
		ExchangeID: w.ExchangeID,
		Model:      w.Model,
		System:     w.System,
		Prompt:     w.Prompt,
	}

	res, err := jq.client.Insert(ctx, args, nil)
	if err != nil {
		return executor.NoHandle, fmt.Errorf("failed to queue completion job: %w", err)
	}

	h := jobHandle(res.Job.ID)
	log.Debug().
		Str("handle", string(h)).
		Int64("exchange_id", w.ExchangeID).
		Msg("Queued completion job")
	return h, nil
}

// Poll reads the job row and maps its state onto a result
func (jq *JobQueue) Poll(ctx context.Context, h executor.Handle) (executor.Result, error) {
	id, err := jobID(h)
	if err != nil {
		return executor.Result{}, err
	}

	job, err := jq.client.JobGet(ctx, id)
	if errors.Is(err, rivertype.ErrNotFound) {
		return executor.Result{}, executor.ErrUnknownHandle
	}
	if err != nil {
		return executor.Result{}, fmt.Errorf("failed to get job %d: %w", id, err)
	}

	return resultFromJob(job)
}

// Cancel cancels a job that has not finished
func (jq *JobQueue) Cancel(ctx context.Context, h executor.Handle) error {
	id, err := jobID(h)
	if err != nil {
		return err
	}
	if _, err := jq.client.JobCancel(ctx, id); err != nil {
		if errors.Is(err, rivertype.ErrNotFound) {
			return executor.ErrUnknownHandle
		}
		return fmt.Errorf("failed to cancel job %d: %w", id, err)
	}
	return nil
}

func jobHandle(id int64) executor.Handle {
	return executor.Handle(handleKind + ":" + strconv.FormatInt(id, 10))
}

func jobID(h executor.Handle) (int64, error) {
	if h.Kind() != handleKind {
		return 0, executor.ErrUnknownHandle
	}
	id, err := strconv.ParseInt(h.ID(), 10, 64)
	if err != nil {
		return 0, executor.ErrUnknownHandle
	}
	return id, nil
}

// resultFromJob maps River job states onto poll results. Anything River may
// still run is pending; a completed job succeeded; a discarded or cancelled
// job failed.
func resultFromJob(job *rivertype.JobRow) (executor.Result, error) {
	switch job.State {
	case rivertype.JobStateCompleted:
		reply, err := outputReply(job.Metadata)
		if err != nil {
			return executor.Result{State: executor.Failed, Error: err.Error()}, nil
		}
		return executor.Result{State: executor.Succeeded, Output: reply}, nil

	case rivertype.JobStateDiscarded, rivertype.JobStateCancelled:
		msg := string(job.State)
		if n := len(job.Errors); n > 0 {
			msg = job.Errors[n-1].Error
		}
		return executor.Result{State: executor.Failed, Error: msg}, nil

	case rivertype.JobStateAvailable, rivertype.JobStatePending, rivertype.JobStateRetryable,
		rivertype.JobStateRunning, rivertype.JobStateScheduled:
		return executor.Result{State: executor.Pending}, nil

	default:
		return executor.Result{}, fmt.Errorf("unexpected job state %q", job.State)
	}
}

func outputReply(metadata []byte) (string, error) {
	var meta struct {
		Output *completionOutput `json:"output"`
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &meta); err != nil {
			return "", fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	if meta.Output == nil {
		return "", errors.New("completed job has no recorded output")
	}
	return meta.Output.Reply, nil
}
