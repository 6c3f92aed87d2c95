package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/pipeline"
)

// BatchRunner processes a batch of raw payloads.
type BatchRunner interface {
	Run(ctx context.Context, source, batchID string, payloads []string) (string, *meter.Outcome)
}

// Handler processes chargeback:batch tasks.
type Handler struct {
	runner BatchRunner
	logger *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(runner BatchRunner, logger *zap.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// HandleBatch meters one batch. Record failures are returned with
// asynq.SkipRetry: they are already persisted for replay, and retrying the
// task would meter the successful records a second time.
func (h *Handler) HandleBatch(ctx context.Context, t *asynq.Task) error {
	var p BatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode batch payload: %v: %w", err, asynq.SkipRetry)
	}

	if p.BatchID == "" {
		if id, ok := asynq.GetTaskID(ctx); ok {
			p.BatchID = id
		}
	}

	batchID, out := h.runner.Run(ctx, pipeline.SourceQueue, p.BatchID, p.Events)
	if err := out.Err(); err != nil {
		h.logger.Warn("batch task failed",
			zap.String("batch_id", batchID),
			zap.Int("failed", len(out.Failures)),
		)
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	h.logger.Info("batch task done",
		zap.String("batch_id", batchID),
		zap.Int("succeeded", len(out.Records)),
		zap.Int("skipped", out.Skipped),
	)
	return nil
}
