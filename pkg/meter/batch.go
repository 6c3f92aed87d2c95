package meter

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/chargeback/pkg/models"
)

// Outcome is the result of processing one batch.
type Outcome struct {
	Records  []models.UsageRecord
	Failures []*RecordError
	// Skipped counts invalid events, which are neither successes nor failures.
	Skipped int
}

// Err reports the batch-level result: nil without failures, the failure
// itself when exactly one record failed, and a combined error listing every
// failure otherwise. multierr.Errors recovers the individual failures.
func (o *Outcome) Err() error {
	errs := make([]error, len(o.Failures))
	for i, f := range o.Failures {
		errs[i] = f
	}
	return multierr.Combine(errs...)
}

// Total returns the number of records the batch contained.
func (o *Outcome) Total() int {
	return len(o.Records) + len(o.Failures) + o.Skipped
}

// Item is one raw payload of a batch. A non-empty RecordID is used as the
// id of the computed record, so a replayed record keeps the id it had when
// it first failed and sinks keyed by id see the same record again.
type Item struct {
	Payload  string
	RecordID string
}

// Items wraps raw payloads that carry no record id.
func Items(payloads []string) []Item {
	items := make([]Item, len(payloads))
	for i, p := range payloads {
		items[i] = Item{Payload: p}
	}
	return items
}

type recordResult struct {
	rec     models.UsageRecord
	ok      bool
	skipped bool
	err     *RecordError
}

// ProcessBatch meters every raw payload of a batch. A failing record never
// stops the batch. Records not yet started when ctx is done are failed with
// the context error.
func (e *Engine) ProcessBatch(ctx context.Context, payloads []string) *Outcome {
	return e.ProcessItems(ctx, Items(payloads))
}

// ProcessItems is ProcessBatch for payloads that may carry a record id.
func (e *Engine) ProcessItems(ctx context.Context, items []Item) *Outcome {
	results := make([]recordResult, len(items))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, item := range items {
		g.Go(func() error {
			results[i] = e.processRecord(ctx, i, item)
			return nil
		})
	}
	_ = g.Wait()

	out := &Outcome{}
	for _, r := range results {
		switch {
		case r.err != nil:
			out.Failures = append(out.Failures, r.err)
		case r.skipped:
			out.Skipped++
		case r.ok:
			out.Records = append(out.Records, r.rec)
		}
	}

	e.logger.Info("batch processed",
		zap.Int("records", len(items)),
		zap.Int("succeeded", len(out.Records)),
		zap.Int("failed", len(out.Failures)),
		zap.Int("skipped", out.Skipped),
	)
	return out
}

func (e *Engine) processRecord(ctx context.Context, index int, item Item) recordResult {
	payload, recordID := item.Payload, item.RecordID
	fail := func(err error) recordResult {
		return recordResult{err: &RecordError{Index: index, Payload: payload, RecordID: recordID, Err: err}}
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("batch deadline: %w", err))
	}

	var ev *models.APICallEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return fail(fmt.Errorf("%w: %w", ErrMalformedEvent, err))
	}
	if !ev.Valid() {
		e.logger.Warn("invalid api call event, skipping", zap.Int("index", index))
		return recordResult{skipped: true}
	}

	rec, err := e.Compute(ev)
	if err != nil {
		return fail(err)
	}
	if recordID != "" {
		rec.ID = recordID
	}
	recordID = rec.ID
	if err := e.recorder.Record(ctx, rec); err != nil {
		return fail(fmt.Errorf("record usage: %w", err))
	}

	e.logger.Debug("tokens calculated",
		zap.String("token_info_id", rec.ID),
		zap.String("api_operation", rec.Operation.String()),
		zap.Bool("stream", rec.Stream),
		zap.Int("prompt_tokens", rec.PromptTokens),
		zap.Int("completion_tokens", rec.CompletionTokens),
		zap.Int("total_tokens", rec.TotalTokens()),
	)
	return recordResult{rec: rec, ok: true}
}
