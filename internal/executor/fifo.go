package executor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// FIFOOptions tunes the single consumer queue
type FIFOOptions struct {
	JobTimeout time.Duration
	ResultTTL  time.Duration
}

type queued struct {
	handle Handle
	work   Work
	ctx    context.Context
}

// FIFO runs submitted work one at a time, strictly in submission order, on
// a single background consumer. The queue is unbounded.
type FIFO struct {
	runner  Runner
	opts    FIFOOptions
	results *resultTable

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []queued
	closed bool
	base   context.Context
	stop   context.CancelFunc
	done   chan struct{}
}

// NewFIFO creates a queue that is idle until Start is called.
func NewFIFO(runner Runner, opts FIFOOptions) *FIFO {
	f := &FIFO{
		runner:  runner,
		opts:    opts,
		results: newResultTable(opts.ResultTTL),
		done:    make(chan struct{}),
	}
	f.cond = sync.NewCond(&f.mu)
	f.base, f.stop = context.WithCancel(context.Background())
	return f
}

func (f *FIFO) Name() string { return "fifo" }

// Start launches the consumer. It stops when ctx is done or Close is called.
func (f *FIFO) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			f.Close()
		case <-f.done:
		}
	}()
	go f.consume()
}

// Close stops accepting work and fails whatever is still queued.
func (f *FIFO) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()
	f.stop()
}

// Done is closed once the consumer has exited.
func (f *FIFO) Done() <-chan struct{} {
	return f.done
}

func (f *FIFO) Submit(ctx context.Context, w Work) (Handle, error) {
	h := newHandle(f.Name(), uuid.NewString())

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return NoHandle, ErrClosed
	}

	workCtx, cancel := context.WithCancel(f.base)
	f.results.add(h, cancel)
	f.queue = append(f.queue, queued{handle: h, work: w, ctx: workCtx})
	f.cond.Signal()

	log.Debug().
		Str("handle", string(h)).
		Int64("exchange_id", w.ExchangeID).
		Int("queue_depth", len(f.queue)).
		Msg("Queued completion")
	return h, nil
}

func (f *FIFO) Poll(ctx context.Context, h Handle) (Result, error) {
	return f.results.get(h)
}

func (f *FIFO) Await(ctx context.Context, h Handle) (Result, error) {
	return f.results.wait(ctx, h)
}

// Cancel fails the work immediately. Queued work is skipped by the consumer;
// running work has its context cancelled.
func (f *FIFO) Cancel(ctx context.Context, h Handle) error {
	return f.results.cancel(h)
}

func (f *FIFO) Release(ctx context.Context, h Handle) error {
	f.results.release(h)
	return nil
}

func (f *FIFO) next() (queued, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for len(f.queue) == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.closed {
		return queued{}, false
	}
	item := f.queue[0]
	f.queue[0] = queued{}
	f.queue = f.queue[1:]
	return item, true
}

func (f *FIFO) consume() {
	defer close(f.done)
	defer f.drain()

	for {
		item, ok := f.next()
		if !ok {
			return
		}

		if res, err := f.results.get(item.handle); err != nil || res.State != Pending {
			continue
		}

		ctx := item.ctx
		var cancel context.CancelFunc
		if f.opts.JobTimeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, f.opts.JobTimeout)
		}
		res := execute(ctx, f.runner, item.handle, item.work)
		if cancel != nil {
			cancel()
		}
		f.results.finish(item.handle, res)
	}
}

func (f *FIFO) drain() {
	f.mu.Lock()
	pending := f.queue
	f.queue = nil
	f.mu.Unlock()

	for _, item := range pending {
		f.results.finish(item.handle, Result{State: Failed, Error: ErrClosed.Error()})
	}
	if len(pending) > 0 {
		log.Warn().Int("count", len(pending)).Msg("FIFO executor stopped with queued work")
	}
}
