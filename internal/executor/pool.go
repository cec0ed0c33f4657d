package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// PoolOptions tunes the worker pool
type PoolOptions struct {
	Size       int
	JobTimeout time.Duration
	ResultTTL  time.Duration
}

// Pool runs each submission on its own goroutine, with at most Size
// completions in flight. Ordering across submissions is not preserved.
type Pool struct {
	runner  Runner
	opts    PoolOptions
	results *resultTable
	slots   chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	base   context.Context
	stop   context.CancelFunc
}

func NewPool(runner Runner, opts PoolOptions) *Pool {
	if opts.Size <= 0 {
		opts.Size = 4
	}
	p := &Pool{
		runner:  runner,
		opts:    opts,
		results: newResultTable(opts.ResultTTL),
		slots:   make(chan struct{}, opts.Size),
	}
	p.base, p.stop = context.WithCancel(context.Background())
	return p
}

func (p *Pool) Name() string { return "pool" }

func (p *Pool) Submit(ctx context.Context, w Work) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return NoHandle, ErrClosed
	}

	h := newHandle(p.Name(), uuid.NewString())
	workCtx, cancel := context.WithCancel(p.base)
	p.results.add(h, cancel)

	p.wg.Add(1)
	go p.run(workCtx, h, w)

	log.Debug().
		Str("handle", string(h)).
		Int64("exchange_id", w.ExchangeID).
		Msg("Submitted completion to pool")
	return h, nil
}

func (p *Pool) run(ctx context.Context, h Handle, w Work) {
	defer p.wg.Done()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.results.finish(h, Result{State: Failed, Error: ctx.Err().Error()})
		return
	}
	defer func() { <-p.slots }()

	if res, err := p.results.get(h); err != nil || res.State != Pending {
		return
	}

	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}
	p.results.finish(h, execute(ctx, p.runner, h, w))
}

func (p *Pool) Poll(ctx context.Context, h Handle) (Result, error) {
	return p.results.get(h)
}

// Await blocks until the work behind h finishes or ctx is done.
func (p *Pool) Await(ctx context.Context, h Handle) (Result, error) {
	return p.results.wait(ctx, h)
}

func (p *Pool) Cancel(ctx context.Context, h Handle) error {
	return p.results.cancel(h)
}

func (p *Pool) Release(ctx context.Context, h Handle) error {
	p.results.release(h)
	return nil
}

// Close cancels outstanding work and waits for running goroutines to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.stop()
	p.wg.Wait()
}
