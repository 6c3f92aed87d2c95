// Package sink delivers usage records to telemetry destinations.
package sink

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
)

// Multi fans a record out to every recorder. All recorders are called even
// when one fails; the errors are combined.
type Multi []meter.Recorder

// Record implements meter.Recorder.
func (m Multi) Record(ctx context.Context, rec models.UsageRecord) error {
	var err error
	for _, r := range m {
		err = multierr.Append(err, r.Record(ctx, rec))
	}
	return err
}

// Log writes each record as a structured log line.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log sink; a nil logger discards output.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Record implements meter.Recorder.
func (l *Log) Record(_ context.Context, rec models.UsageRecord) error {
	props := rec.Properties()
	fields := make([]zap.Field, 0, len(props)+1)
	fields = append(fields, zap.String("event", models.UsageEventName))
	for _, k := range propertyOrder {
		fields = append(fields, zap.String(k, props[k]))
	}
	l.logger.Info("tokens calculated", fields...)
	return nil
}

// propertyOrder keeps log and stream field order stable.
var propertyOrder = []string{
	"TokenInfoId",
	"ApiOperation",
	"AppKey",
	"Timestamp",
	"Stream",
	"PromptTokens",
	"CompletionTokens",
	"TotalTokens",
}
