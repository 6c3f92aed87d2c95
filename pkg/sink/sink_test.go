package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
)

func TestMultiCallsEveryRecorder(t *testing.T) {
	var calls []string
	ok := meter.RecorderFunc(func(context.Context, models.UsageRecord) error {
		calls = append(calls, "ok")
		return nil
	})
	errA := errors.New("a down")
	errB := errors.New("b down")
	failA := meter.RecorderFunc(func(context.Context, models.UsageRecord) error {
		calls = append(calls, "a")
		return errA
	})
	failB := meter.RecorderFunc(func(context.Context, models.UsageRecord) error {
		calls = append(calls, "b")
		return errB
	})

	err := Multi{failA, ok, failB}.Record(context.Background(), models.NewUsageRecord(models.ChatCompletion, "k", "", false, 1, 1))

	assert.Equal(t, []string{"a", "ok", "b"}, calls)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)

	assert.NoError(t, Multi{ok}.Record(context.Background(), models.UsageRecord{}))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := models.NewUsageRecord(models.TextCompletion, "app-9", "2024-03-01", false, 2, 3)

	require.NoError(t, NewLog(zap.New(core)).Record(context.Background(), rec))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, models.UsageEventName, fields["event"])
	assert.Equal(t, rec.ID, fields["TokenInfoId"])
	assert.Equal(t, "5", fields["TotalTokens"])
	assert.Equal(t, "false", fields["Stream"])
}

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func TestRedisStream(t *testing.T) {
	fake := &fakeStream{}
	s := &RedisStream{client: fake, stream: "chargeback:usage", maxLen: 1000}
	rec := models.NewUsageRecord(models.ChatCompletion, "app-1", "ts", true, 5, 3)

	require.NoError(t, s.Record(context.Background(), rec))
	require.Len(t, fake.args, 1)

	args := fake.args[0]
	assert.Equal(t, "chargeback:usage", args.Stream)
	assert.Equal(t, int64(1000), args.MaxLen)
	assert.True(t, args.Approx)

	values := args.Values.([]any)
	require.Len(t, values, 18)
	assert.Equal(t, []any{"event", models.UsageEventName, "TokenInfoId", rec.ID}, values[:4])
	assert.Equal(t, []any{"TotalTokens", "8"}, values[16:])
}

func TestRedisStreamError(t *testing.T) {
	down := errors.New("connection refused")
	s := &RedisStream{client: &fakeStream{err: down}, stream: "s"}

	err := s.Record(context.Background(), models.NewUsageRecord(models.ChatCompletion, "a", "", false, 1, 1))
	assert.ErrorIs(t, err, down)
}
