// Package meter derives chargeback usage records from recorded API calls.
package meter

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/tokenizer"
)

// Recorder receives every usage record the engine produces.
type Recorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, rec models.UsageRecord) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, rec models.UsageRecord) error { return f(ctx, rec) }

// Discard is a Recorder that drops every record.
var Discard Recorder = RecorderFunc(func(context.Context, models.UsageRecord) error { return nil })

// Engine computes token usage for batches of API call events.
type Engine struct {
	counter     tokenizer.Counter
	recorder    Recorder
	logger      *zap.Logger
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for skipped events and per-record results.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConcurrency bounds how many records of a batch are processed at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an Engine. A nil recorder discards records.
func New(counter tokenizer.Counter, recorder Recorder, opts ...Option) *Engine {
	if recorder == nil {
		recorder = Discard
	}
	e := &Engine{
		counter:     counter,
		recorder:    recorder,
		logger:      zap.NewNop(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compute derives the usage record of a single valid event.
func (e *Engine) Compute(ev *models.APICallEvent) (models.UsageRecord, error) {
	if !ev.Valid() {
		return models.UsageRecord{}, ErrInvalidEvent
	}

	req, err := ParseRequest(ev.Request)
	if err != nil {
		return models.UsageRecord{}, err
	}

	op := ev.Operation()
	mode := SelectMode(req)

	var prompt, completion int
	switch mode {
	case Incremental:
		prompt, err = promptTokens(e.counter, op, req)
		if err != nil {
			return models.UsageRecord{}, fmt.Errorf("prompt tokens: %w", err)
		}
		completion, err = completionTokens(e.counter, op, ev.ResponseBody())
		if err != nil {
			return models.UsageRecord{}, fmt.Errorf("completion tokens: %w", err)
		}
	default:
		prompt, completion, err = singleShotUsage(ev.ResponseBody())
		if err != nil {
			return models.UsageRecord{}, err
		}
	}

	return models.NewUsageRecord(op, ev.AppSubscriptionKey, ev.EventTime, mode.Streamed(), prompt, completion), nil
}
