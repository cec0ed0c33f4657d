// Package executor defines how a unit of completion work is handed off and
// later polled, plus the in-process and redis backed strategies.
package executor

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrUnknownHandle is returned by Poll when the executor has no record of a handle.
	ErrUnknownHandle = errors.New("unknown task handle")
	// ErrClosed is returned by Submit after the executor has been stopped.
	ErrClosed = errors.New("executor closed")
)

// Work is one completion request for an exchange
type Work struct {
	ExchangeID int64  `json:"exchange_id"`
	Model      string `json:"model"`
	System     string `json:"system,omitempty"`
	Prompt     string `json:"prompt"`
}

// FullPrompt joins the context prompt and the turn prompt for models that
// take a single text input.
func (w Work) FullPrompt() string {
	if strings.TrimSpace(w.System) == "" {
		return w.Prompt
	}
	return w.System + " \n" + w.Prompt
}

// Handle is an opaque reference to submitted work. Each strategy prefixes
// its handles with its own name.
type Handle string

// NoHandle marks the absence of outstanding work.
const NoHandle Handle = ""

// Kind returns the strategy prefix of the handle.
func (h Handle) Kind() string {
	kind, _, ok := strings.Cut(string(h), ":")
	if !ok {
		return ""
	}
	return kind
}

// ID returns the strategy specific part of the handle.
func (h Handle) ID() string {
	_, id, ok := strings.Cut(string(h), ":")
	if !ok {
		return string(h)
	}
	return id
}

func newHandle(kind, id string) Handle {
	return Handle(kind + ":" + id)
}

// State is the outcome of a poll
type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is what Poll reports for a handle
type Result struct {
	State  State
	Output string
	Error  string
}

// Executor accepts work and reports on it later
type Executor interface {
	Name() string
	Submit(ctx context.Context, w Work) (Handle, error)
	Poll(ctx context.Context, h Handle) (Result, error)
}

// Canceler is implemented by executors that can abandon outstanding work.
type Canceler interface {
	Cancel(ctx context.Context, h Handle) error
}

// Awaiter is implemented by executors whose callers may block until a
// specific unit of work finishes.
type Awaiter interface {
	Await(ctx context.Context, h Handle) (Result, error)
}

// Releaser is implemented by executors that keep results around until the
// caller has recorded them.
type Releaser interface {
	Release(ctx context.Context, h Handle) error
}

// Runner performs the actual completion call
type Runner interface {
	Complete(ctx context.Context, w Work) (string, error)
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, w Work) (string, error)

func (f RunnerFunc) Complete(ctx context.Context, w Work) (string, error) {
	return f(ctx, w)
}
