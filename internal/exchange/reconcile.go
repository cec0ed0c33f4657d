package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/casebook/internal/executor"
	"github.com/casebook/pkg/models"
)

// Reconcile settles an in_progress exchange whose unit of work has finished.
// Any other exchange is returned as is, without a store write. A pending
// poll leaves the exchange untouched unless it has gone stale.
func (s *Service) Reconcile(ctx context.Context, ex *models.Exchange) (*models.Exchange, error) {
	if ex.Status != models.ExchangeInProgress {
		return ex, nil
	}

	h := executor.Handle(ex.TaskHandle)
	res, err := s.exec.Poll(ctx, h)
	switch {
	case errors.Is(err, executor.ErrUnknownHandle):
		res = executor.Result{State: executor.Failed, Error: "task is no longer known to the executor"}
	case err != nil:
		log.Warn().Err(err).Int64("exchange_id", ex.ID).Str("handle", string(h)).Msg("Poll failed, leaving exchange in progress")
		return ex, nil
	}

	if res.State == executor.Pending {
		if !s.stale(ex) {
			return ex, nil
		}
		res = executor.Result{
			State: executor.Failed,
			Error: fmt.Sprintf("no result after %s", s.opts.StaleAfter),
		}
		if c, ok := s.exec.(executor.Canceler); ok {
			if err := c.Cancel(ctx, h); err != nil {
				log.Debug().Err(err).Str("handle", string(h)).Msg("Failed to cancel stale task")
			}
		}
	}

	return s.settle(ctx, ex, res)
}

func (s *Service) stale(ex *models.Exchange) bool {
	if s.opts.StaleAfter <= 0 || ex.SubmittedAt == nil {
		return false
	}
	return s.opts.Now().Sub(*ex.SubmittedAt) > s.opts.StaleAfter
}

// settle writes the outcome of a finished unit of work. Reply, status and
// handle change in one conditional write; a failure keeps the old reply.
// If another reader settled the exchange first, the stored row wins.
func (s *Service) settle(ctx context.Context, ex *models.Exchange, res executor.Result) (*models.Exchange, error) {
	next := *ex
	next.TaskHandle = ""
	next.SubmittedAt = nil
	if res.State == executor.Succeeded {
		next.Reply = s.opts.Formatter.Display(res.Output)
		next.Status = models.ExchangeReady
	} else {
		next.Status = models.ExchangeFailed
	}

	ok, err := s.store.CompareAndSwapExchange(ctx, &next, models.ExchangeInProgress, ex.TaskHandle)
	if err != nil {
		return ex, fmt.Errorf("failed to settle exchange %d: %w", ex.ID, err)
	}
	if !ok {
		log.Debug().Int64("exchange_id", ex.ID).Msg("Exchange already settled elsewhere")
		return s.Lookup(ctx, ex.ID)
	}
	s.release(ctx, executor.Handle(ex.TaskHandle))

	if next.Status == models.ExchangeReady {
		log.Info().
			Int64("exchange_id", ex.ID).
			Str("handle", ex.TaskHandle).
			Int("reply_chars", len(next.Reply)).
			Msg("Exchange completed")
	} else {
		log.Warn().
			Int64("exchange_id", ex.ID).
			Str("handle", ex.TaskHandle).
			Str("error", res.Error).
			Msg("Exchange failed")
	}
	return &next, nil
}
