// Package completion calls the configured language models for a unit of
// exchange work.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/casebook/internal/config"
	"github.com/casebook/internal/executor"
	"github.com/casebook/internal/retry"
)

const (
	StyleChat       = "chat"
	StyleCompletion = "completion"
)

// ErrUnsupportedModel is returned for a model that is not configured
var ErrUnsupportedModel = errors.New("unknown or unsupported model")

// Options are the call parameters shared by every model
type Options struct {
	SystemPrompt      string
	MaxTokens         int
	Temperature       float64
	RequestsPerSecond float64 // 0 disables throttling
	Retry             retry.Policy
}

type model struct {
	spec config.ModelConfig
	llm  llms.Model
}

// Client runs completions against the allow-listed models
type Client struct {
	models  map[string]model
	opts    Options
	limiter *rate.Limiter
}

// New builds provider clients for every configured model
func New(cfg config.AIConfig) (*Client, error) {
	llmsByName := make(map[string]llms.Model, len(cfg.Models))
	for _, m := range cfg.Models {
		llm, err := newProvider(cfg, m)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for model %s: %w", m.Name, err)
		}
		llmsByName[m.Name] = llm
	}

	policy := retry.CompletionPolicy()
	policy.MaxRetries = cfg.MaxRetries

	return NewWithModels(cfg.Models, llmsByName, Options{
		SystemPrompt:      cfg.SystemPrompt,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Retry:             policy,
	})
}

func newProvider(cfg config.AIConfig, m config.ModelConfig) (llms.Model, error) {
	switch m.Provider {
	case "openai":
		opts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(m.Name),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return openai.New(opts...)
	case "ollama":
		return ollama.New(
			ollama.WithModel(m.Name),
			ollama.WithServerURL(cfg.OllamaURL),
		)
	default:
		return nil, fmt.Errorf("unknown provider %q", m.Provider)
	}
}

// NewWithModels wires already constructed models, keyed by model name
func NewWithModels(specs []config.ModelConfig, llmsByName map[string]llms.Model, opts Options) (*Client, error) {
	c := &Client{
		models: make(map[string]model, len(specs)),
		opts:   opts,
	}
	for _, spec := range specs {
		llm, ok := llmsByName[spec.Name]
		if !ok {
			return nil, fmt.Errorf("no client for model %s", spec.Name)
		}
		if spec.Style == "" {
			spec.Style = StyleChat
		}
		c.models[spec.Name] = model{spec: spec, llm: llm}
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c, nil
}

// Supports reports whether name is an allow-listed model
func (c *Client) Supports(name string) bool {
	_, ok := c.models[name]
	return ok
}

// Complete implements executor.Runner
func (c *Client) Complete(ctx context.Context, w executor.Work) (string, error) {
	m, ok := c.models[w.Model]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedModel, w.Model)
	}

	var reply string
	started := time.Now()
	outcome := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		var err error
		if m.spec.Style == StyleCompletion {
			reply, err = c.completion(ctx, m, w)
		} else {
			reply, err = c.chat(ctx, m, w)
		}
		return err
	})
	if !outcome.Success {
		return "", fmt.Errorf("completion with %s failed after %d attempt(s): %w", w.Model, outcome.Attempts, outcome.LastError)
	}

	log.Debug().
		Int64("exchange_id", w.ExchangeID).
		Str("model", w.Model).
		Int("attempts", outcome.Attempts).
		Int("reply_chars", len(reply)).
		Dur("elapsed", time.Since(started)).
		Msg("Completion returned")
	return reply, nil
}

func (c *Client) callOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(c.opts.Temperature)}
	if c.opts.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.opts.MaxTokens))
	}
	return opts
}

func (c *Client) systemPrompt(w executor.Work) string {
	if strings.TrimSpace(w.System) != "" {
		return w.System
	}
	return c.opts.SystemPrompt
}

// chat sends the context prompt as the system message and the turn prompt
// as the user message.
func (c *Client) chat(ctx context.Context, m model, w executor.Work) (string, error) {
	var messages []llms.MessageContent
	if system := c.systemPrompt(w); system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, w.Prompt))

	resp, err := m.llm.GenerateContent(ctx, messages, c.callOptions()...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("empty response from model")
	}
	return resp.Choices[0].Content, nil
}

// completion sends one prompt and trims the surrounding blank space that
// completion models tend to emit.
func (c *Client) completion(ctx context.Context, m model, w executor.Work) (string, error) {
	prompt := executor.Work{System: c.systemPrompt(w), Prompt: w.Prompt}.FullPrompt()
	out, err := llms.GenerateFromSinglePrompt(ctx, m.llm, prompt, c.callOptions()...)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, " \n"), nil
}
