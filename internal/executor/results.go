package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultResultTTL = time.Hour

type entry struct {
	result Result
	done   chan struct{}
	cancel context.CancelFunc
	doneAt time.Time
}

// resultTable tracks in-process work from submission until the result is
// released or expires.
type resultTable struct {
	mu      sync.Mutex
	entries map[Handle]*entry
	ttl     time.Duration
	now     func() time.Time
}

func newResultTable(ttl time.Duration) *resultTable {
	if ttl <= 0 {
		ttl = defaultResultTTL
	}
	return &resultTable{
		entries: make(map[Handle]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (t *resultTable) add(h Handle, cancel context.CancelFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked()
	t.entries[h] = &entry{
		result: Result{State: Pending},
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// finish records the outcome and cancels the work's context, detaching it
// from the executor's base context. The first outcome wins so a cancelled
// unit of work stays failed even if its runner returns later.
func (t *resultTable) finish(h Handle, r Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok || e.result.State != Pending {
		return
	}
	e.result = r
	e.doneAt = t.now()
	if e.cancel != nil {
		e.cancel()
	}
	close(e.done)
}

func (t *resultTable) get(h Handle) (Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[h]
	if !ok {
		return Result{}, ErrUnknownHandle
	}
	return e.result, nil
}

func (t *resultTable) wait(ctx context.Context, h Handle) (Result, error) {
	t.mu.Lock()
	e, ok := t.entries[h]
	t.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownHandle
	}

	select {
	case <-e.done:
		return t.get(h)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *resultTable) cancel(h Handle) error {
	t.mu.Lock()
	_, ok := t.entries[h]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	t.finish(h, Result{State: Failed, Error: "cancelled"})
	return nil
}

func (t *resultTable) release(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[h]; ok && e.result.State != Pending {
		delete(t.entries, h)
	}
}

func (t *resultTable) pruneLocked() {
	cutoff := t.now().Add(-t.ttl)
	for h, e := range t.entries {
		if e.result.State != Pending && e.doneAt.Before(cutoff) {
			delete(t.entries, h)
		}
	}
}

// execute runs one unit of work and converts panics into failures so a
// single bad request cannot stop a consumer loop.
func execute(ctx context.Context, runner Runner, h Handle, w Work) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("handle", string(h)).
				Int64("exchange_id", w.ExchangeID).
				Interface("panic", r).
				Msg("Completion runner panicked")
			res = Result{State: Failed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	started := time.Now()
	out, err := runner.Complete(ctx, w)
	if err != nil {
		log.Warn().
			Err(err).
			Str("handle", string(h)).
			Int64("exchange_id", w.ExchangeID).
			Dur("elapsed", time.Since(started)).
			Msg("Completion failed")
		return Result{State: Failed, Error: err.Error()}
	}

	log.Info().
		Str("handle", string(h)).
		Int64("exchange_id", w.ExchangeID).
		Dur("elapsed", time.Since(started)).
		Msg("Completion finished")
	return Result{State: Succeeded, Output: out}
}
