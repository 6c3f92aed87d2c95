// Package pipeline runs batches through the meter engine and handles what
// follows: failure persistence, batch metrics and budget warnings. Every
// transport (HTTP, queue, spool, CLI) processes batches through it.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
)

// Source names the transport a batch arrived on.
const (
	SourceHTTP   = "http"
	SourceQueue  = "queue"
	SourceSpool  = "spool"
	SourceCLI    = "cli"
	SourceReplay = "replay"
)

// FailureStore persists failed records for later replay.
type FailureStore interface {
	Save(ctx context.Context, batchID, source string, failures []*meter.RecordError) error
}

// BatchObserver receives the outcome of every batch.
type BatchObserver interface {
	ObserveBatch(source string, out *meter.Outcome, elapsed time.Duration)
}

// BudgetChecker reports app keys whose budget is used up.
type BudgetChecker interface {
	Exceeded(ctx context.Context, recs []models.UsageRecord) ([]models.BudgetStatus, error)
}

// Pipeline processes batches with an Engine.
type Pipeline struct {
	engine   *meter.Engine
	failures FailureStore
	observer BatchObserver
	budgets  BudgetChecker
	logger   *zap.Logger
	timeout  time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFailureStore persists the failures of every batch.
func WithFailureStore(s FailureStore) Option {
	return func(p *Pipeline) { p.failures = s }
}

// WithObserver reports batch outcomes to o.
func WithObserver(o BatchObserver) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithBudgets warns about exhausted budgets after each batch.
func WithBudgets(b BudgetChecker) Option {
	return func(p *Pipeline) { p.budgets = b }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithTimeout bounds the processing time of a batch. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// New creates a Pipeline around engine.
func New(engine *meter.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{engine: engine, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes one batch. An empty batchID is replaced by a generated one,
// which is returned with the outcome.
func (p *Pipeline) Run(ctx context.Context, source, batchID string, payloads []string) (string, *meter.Outcome) {
	return p.RunItems(ctx, source, batchID, meter.Items(payloads))
}

// RunItems is Run for items that may carry the record id of an earlier attempt.
func (p *Pipeline) RunItems(ctx context.Context, source, batchID string, items []meter.Item) (string, *meter.Outcome) {
	if batchID == "" {
		batchID = uuid.NewString()
	}
	logger := p.logger.With(zap.String("batch_id", batchID), zap.String("source", source))

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	out := p.engine.ProcessItems(runCtx, items)
	elapsed := time.Since(start)

	if p.observer != nil {
		p.observer.ObserveBatch(source, out, elapsed)
	}

	// Follow-up work uses the caller's context so an expired batch deadline
	// does not also drop its failures.
	if p.failures != nil && len(out.Failures) > 0 {
		if err := p.failures.Save(ctx, batchID, source, out.Failures); err != nil {
			logger.Error("save failed records", zap.Error(err), zap.Int("failed", len(out.Failures)))
		}
	}

	if p.budgets != nil && len(out.Records) > 0 {
		over, err := p.budgets.Exceeded(ctx, out.Records)
		if err != nil {
			logger.Warn("budget check", zap.Error(err))
		}
		for _, s := range over {
			logger.Warn("token budget exceeded",
				zap.String("app_key", s.Policy.AppKey),
				zap.String("period", string(s.Policy.Period)),
				zap.Int64("max_tokens", s.Policy.MaxTokens),
				zap.Int64("used", s.Used),
			)
		}
	}

	if err := out.Err(); err != nil {
		logger.Warn("batch completed with failures", zap.Error(err), zap.Duration("elapsed", elapsed))
	}
	return batchID, out
}
