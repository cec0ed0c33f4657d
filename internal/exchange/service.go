// Package exchange owns the lifecycle of an exchange: submitting a turn to
// an executor, reconciling the outstanding unit of work on read, and the
// ready -> in_progress -> ready|failed state machine in between.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/casebook/internal/executor"
	"github.com/casebook/internal/store"
	"github.com/casebook/pkg/models"
)

var (
	// ErrNotFound is returned when the exchange does not exist
	ErrNotFound = errors.New("exchange not found")
	// ErrUnsupportedModel is returned when a turn names a model outside the allow-list
	ErrUnsupportedModel = errors.New("unknown or unsupported model")
	// ErrConflict is returned when a turn or cancel races an outstanding unit of work
	ErrConflict = errors.New("still processing last request")
	// ErrSubmitFailed is returned when the executor refuses the unit of work
	ErrSubmitFailed = errors.New("failed to submit work to executor")
)

// Store is the slice of persistence the service needs
type Store interface {
	CreateExchange(ctx context.Context, ex *models.Exchange) error
	GetExchange(ctx context.Context, id int64) (*models.Exchange, error)
	ListExchangesByProject(ctx context.Context, projectID int64) ([]*models.Exchange, error)
	CompareAndSwapExchange(ctx context.Context, ex *models.Exchange, status models.ExchangeStatus, handle string) (bool, error)
}

// Models decides which model names may be used
type Models interface {
	Supports(model string) bool
}

// AllowList is a fixed set of model names
type AllowList []string

func (a AllowList) Supports(model string) bool {
	for _, m := range a {
		if m == model {
			return true
		}
	}
	return false
}

// Options tune the service. The zero value submits without waiting, never
// expires pending work and never truncates continued prompts.
type Options struct {
	// AwaitInline makes Submit and Continue wait for executors that can
	// be awaited and settle the exchange before returning.
	AwaitInline bool
	// StaleAfter fails an exchange whose work is still pending this long
	// after submission. Zero disables it.
	StaleAfter time.Duration
	// MaxContextChars keeps only the trailing characters of a continued
	// prompt. Zero keeps everything.
	MaxContextChars int
	Formatter       Formatter
	Now             func() time.Time
}

// NewTurn is the input of Submit
type NewTurn struct {
	ProjectID     int64
	ChatbotID     *int64
	UserID        int64
	ContextPrompt string
	Prompt        string
	Model         string
}

// Service runs the exchange state machine on top of a store and an executor
type Service struct {
	store  Store
	exec   executor.Executor
	models Models
	opts   Options
}

func NewService(st Store, exec executor.Executor, models Models, opts Options) *Service {
	if opts.Formatter == nil {
		opts.Formatter = HTMLBreaks{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, exec: exec, models: models, opts: opts}
}

// ExecutorName reports which strategy the service dispatches to
func (s *Service) ExecutorName() string {
	return s.exec.Name()
}

// SupportsModel reports whether model is on the allow-list
func (s *Service) SupportsModel(model string) bool {
	return s.models.Supports(model)
}

// Submit creates an exchange and hands its first turn to the executor. The
// model is checked before anything is written. If the executor refuses the
// work the exchange is kept as failed and ErrSubmitFailed is returned along
// with it.
func (s *Service) Submit(ctx context.Context, turn NewTurn) (*models.Exchange, error) {
	if !s.models.Supports(turn.Model) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, turn.Model)
	}

	ex := &models.Exchange{
		ProjectID:     turn.ProjectID,
		ChatbotID:     turn.ChatbotID,
		UserID:        turn.UserID,
		ContextPrompt: turn.ContextPrompt,
		Prompt:        turn.Prompt,
		Model:         turn.Model,
		Status:        models.ExchangeReady,
	}
	if err := s.store.CreateExchange(ctx, ex); err != nil {
		return nil, fmt.Errorf("failed to create exchange: %w", err)
	}

	next, err := s.dispatch(ctx, ex)
	if errors.Is(err, ErrSubmitFailed) {
		failed := *ex
		failed.Status = models.ExchangeFailed
		if ok, casErr := s.store.CompareAndSwapExchange(ctx, &failed, models.ExchangeReady, ""); casErr != nil || !ok {
			log.Error().Err(casErr).Int64("exchange_id", ex.ID).Msg("Failed to mark unsubmitted exchange as failed")
			return ex, err
		}
		return &failed, err
	}
	if err != nil {
		return ex, err
	}
	return next, nil
}

// Lookup reads an exchange without reconciling it
func (s *Service) Lookup(ctx context.Context, id int64) (*models.Exchange, error) {
	ex, err := s.store.GetExchange(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange %d: %w", id, err)
	}
	return ex, nil
}

// Get reads an exchange and reconciles it
func (s *Service) Get(ctx context.Context, id int64) (*models.Exchange, error) {
	ex, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, ex)
}

// ListForProject returns every exchange of a project, each reconciled on
// its own. An element that cannot be reconciled is returned as stored.
func (s *Service) ListForProject(ctx context.Context, projectID int64) ([]*models.Exchange, error) {
	list, err := s.store.ListExchangesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges for project %d: %w", projectID, err)
	}

	out := make([]*models.Exchange, 0, len(list))
	for _, ex := range list {
		rec, err := s.Reconcile(ctx, ex)
		if err != nil {
			log.Warn().Err(err).Int64("exchange_id", ex.ID).Msg("Failed to reconcile exchange in list")
			rec = ex
		}
		out = append(out, rec)
	}
	return out, nil
}

// Continue submits the next turn of an exchange. The stored prompt grows by
// the previous reply and the new text. Nothing is written unless the
// executor accepts the work.
func (s *Service) Continue(ctx context.Context, ex *models.Exchange, text string) (*models.Exchange, error) {
	cur, err := s.Reconcile(ctx, ex)
	if err != nil {
		return ex, err
	}
	if cur.Status == models.ExchangeInProgress {
		return cur, ErrConflict
	}

	next := *cur
	next.Prompt = s.continuedPrompt(cur.Prompt, cur.Reply, text)
	next.Reply = ""

	out, err := s.dispatch(ctx, &next)
	if err != nil {
		return cur, err
	}
	return out, nil
}

// Cancel gives up on the outstanding unit of work and fails the exchange.
// Work that has already finished is reconciled instead and ErrConflict is
// returned.
func (s *Service) Cancel(ctx context.Context, ex *models.Exchange) (*models.Exchange, error) {
	cur, err := s.Reconcile(ctx, ex)
	if err != nil {
		return ex, err
	}
	if cur.Status != models.ExchangeInProgress {
		return cur, ErrConflict
	}

	handle := executor.Handle(cur.TaskHandle)
	next := *cur
	next.Status = models.ExchangeFailed
	next.TaskHandle = ""
	next.SubmittedAt = nil

	ok, err := s.store.CompareAndSwapExchange(ctx, &next, models.ExchangeInProgress, cur.TaskHandle)
	if err != nil {
		return cur, fmt.Errorf("failed to cancel exchange %d: %w", cur.ID, err)
	}
	if !ok {
		latest, err := s.Lookup(ctx, cur.ID)
		if err != nil {
			return cur, err
		}
		return latest, ErrConflict
	}

	if c, ok := s.exec.(executor.Canceler); ok {
		if err := c.Cancel(ctx, handle); err != nil && !errors.Is(err, executor.ErrUnknownHandle) {
			log.Warn().Err(err).Str("handle", string(handle)).Msg("Executor could not cancel task")
		}
	}
	s.release(ctx, handle)

	log.Info().
		Int64("exchange_id", cur.ID).
		Str("handle", string(handle)).
		Msg("Exchange cancelled")
	return &next, nil
}

// Inspect polls a task handle directly without touching any exchange
func (s *Service) Inspect(ctx context.Context, h executor.Handle) (executor.Result, error) {
	return s.exec.Poll(ctx, h)
}

// dispatch hands the exchange's turn to the executor and moves it to
// in_progress, provided the stored row still has ex's status and no handle.
func (s *Service) dispatch(ctx context.Context, ex *models.Exchange) (*models.Exchange, error) {
	expected := ex.Status

	h, err := s.exec.Submit(ctx, executor.Work{
		ExchangeID: ex.ID,
		Model:      ex.Model,
		System:     ex.ContextPrompt,
		Prompt:     s.opts.Formatter.Plain(ex.Prompt),
	})
	if err != nil {
		log.Error().Err(err).Int64("exchange_id", ex.ID).Str("executor", s.exec.Name()).Msg("Executor refused work")
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}

	now := s.opts.Now()
	next := *ex
	next.Status = models.ExchangeInProgress
	next.TaskHandle = string(h)
	next.SubmittedAt = &now

	ok, err := s.store.CompareAndSwapExchange(ctx, &next, expected, "")
	if err != nil || !ok {
		s.abandon(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("failed to mark exchange %d in progress: %w", ex.ID, err)
		}
		return nil, ErrConflict
	}

	log.Info().
		Int64("exchange_id", next.ID).
		Str("handle", string(h)).
		Str("model", next.Model).
		Msg("Submitted exchange turn")

	if !s.opts.AwaitInline {
		return &next, nil
	}
	aw, ok := s.exec.(executor.Awaiter)
	if !ok {
		return &next, nil
	}
	res, err := aw.Await(ctx, h)
	if err != nil {
		log.Warn().Err(err).Str("handle", string(h)).Msg("Stopped waiting for task")
		return &next, nil
	}
	return s.settle(ctx, &next, res)
}

// abandon cancels work whose exchange could not be moved to in_progress
func (s *Service) abandon(ctx context.Context, h executor.Handle) {
	if c, ok := s.exec.(executor.Canceler); ok {
		if err := c.Cancel(ctx, h); err != nil {
			log.Warn().Err(err).Str("handle", string(h)).Msg("Failed to cancel orphaned task")
		}
	}
	s.release(ctx, h)
}

func (s *Service) release(ctx context.Context, h executor.Handle) {
	if r, ok := s.exec.(executor.Releaser); ok {
		if err := r.Release(ctx, h); err != nil {
			log.Debug().Err(err).Str("handle", string(h)).Msg("Failed to release task result")
		}
	}
}
