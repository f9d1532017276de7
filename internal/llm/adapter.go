// Package llm dispatches structured-output completions across a
// priority-ordered provider set with retry and fallback. Responses parse
// into caller-declared schemas; validation failure is a hard error, never
// silently repaired. Every provider call lands in an append-only
// interaction log.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/project-aether/aetheros/internal/logging"
)

// Response is a parsed, validated completion.
type Response struct {
	Content      map[string]any
	Raw          string
	Tokens       TokenUsage
	Provider     string
	Model        string
	FinishReason string
	Referenced   []string
}

// Adapter fans a request across providers in priority order. Safe for
// concurrent use.
type Adapter struct {
	providers []Provider
	maxTries  uint
	interval  time.Duration
	logger    *logging.Logger
	log       *interactionLog
	metrics   *metrics
}

// Option customizes adapter construction.
type Option func(*Adapter)

// WithMaxTries sets the per-provider attempt budget.
func WithMaxTries(n uint) Option {
	return func(a *Adapter) { a.maxTries = n }
}

// WithInitialInterval sets the first backoff delay.
func WithInitialInterval(d time.Duration) Option {
	return func(a *Adapter) { a.interval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// New creates an adapter over providers in priority order.
func New(providers []Provider, opts ...Option) *Adapter {
	a := &Adapter{
		providers: providers,
		maxTries:  3,
		interval:  500 * time.Millisecond,
		logger:    logging.Nop(),
		log:       newInteractionLog(),
		metrics:   newMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate completes the request against the first provider that answers,
// retrying transient failures with exponential backoff before falling back
// to the next provider. A response that arrives but fails schema validation
// stops the chain: that is a content defect, not a transport one.
func (a *Adapter) Generate(ctx context.Context, req Request) (Response, error) {
	if len(a.providers) == 0 {
		return Response{}, fmt.Errorf("no providers configured: %w", ErrAllProvidersFailed)
	}

	ctx, span := a.metrics.tracer.Start(ctx, "llm.generate")
	defer span.End()

	var lastErr error
	for _, provider := range a.providers {
		start := time.Now()
		raw, err := a.completeWithRetry(ctx, provider, req)
		elapsed := time.Since(start)

		a.metrics.recordCall(ctx, provider, raw.Tokens, elapsed, err)

		if err != nil {
			a.log.append(provider, raw.Tokens, elapsed, false, err)
			a.logger.Warn(ctx, "provider failed",
				zap.String("provider", provider.Name()),
				zap.Error(err))
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		content, parseErr := parseStructured(raw.Text, req.Schema)
		a.log.append(provider, raw.Tokens, elapsed, parseErr == nil, parseErr)
		if parseErr != nil {
			return Response{}, fmt.Errorf("provider %s: %w", provider.Name(), parseErr)
		}

		return Response{
			Content:      content,
			Raw:          raw.Text,
			Tokens:       raw.Tokens,
			Provider:     provider.Name(),
			Model:        provider.Model(),
			FinishReason: raw.FinishReason,
			Referenced:   ExtractCitations(raw.Text),
		}, nil
	}

	return Response{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

func (a *Adapter) completeWithRetry(ctx context.Context, provider Provider, req Request) (RawResponse, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = a.interval

	operation := func() (RawResponse, error) {
		raw, err := provider.Complete(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return RawResponse{}, backoff.Permanent(err)
			}
			return RawResponse{}, err
		}
		return raw, nil
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(a.maxTries))
}

// Interactions returns a copy of the interaction log.
func (a *Adapter) Interactions() []Interaction {
	return a.log.entries()
}
