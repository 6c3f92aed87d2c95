package meter

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/pario-ai/chargeback/pkg/models"
)

func rawEvent(t *testing.T, fields map[string]any) string {
	t.Helper()
	b, err := json.Marshal(fields)
	require.NoError(t, err)
	return string(b)
}

func validPayload(t *testing.T, prompt, completion int) string {
	t.Helper()
	resp, err := json.Marshal(map[string]any{
		"usage": map[string]int{"prompt_tokens": prompt, "completion_tokens": completion},
	})
	require.NoError(t, err)
	return rawEvent(t, map[string]any{
		"eventTime":          "2024-03-01T10:00:00Z",
		"apiOperation":       "ChatCompletion",
		"appSubscriptionKey": "app-1",
		"request":            `{"messages":[{"role":"user","content":"hi"}]}`,
		"response":           string(resp),
	})
}

func malformedPayload(t *testing.T) string {
	t.Helper()
	return rawEvent(t, map[string]any{
		"apiOperation": "ChatCompletion",
		"request":      `{"stream":true}`,
		"response":     "data: {broken\n",
	})
}

type memRecorder struct {
	mu   sync.Mutex
	recs []models.UsageRecord
}

func (m *memRecorder) Record(_ context.Context, rec models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, rec)
	return nil
}

func TestProcessBatchAllValid(t *testing.T) {
	rec := &memRecorder{}
	e := New(wordCounter, rec, WithLogger(zaptest.NewLogger(t)))

	out := e.ProcessBatch(context.Background(), []string{
		validPayload(t, 5, 3),
		validPayload(t, 10, 20),
	})

	require.NoError(t, out.Err())
	require.Len(t, out.Records, 2)
	assert.Empty(t, out.Failures)
	assert.Len(t, rec.recs, 2)
	for _, r := range out.Records {
		assert.Equal(t, r.PromptTokens+r.CompletionTokens, r.TotalTokens())
	}
}

func TestProcessBatchSingleFailure(t *testing.T) {
	e := New(wordCounter, nil)
	bad := malformedPayload(t)

	out := e.ProcessBatch(context.Background(), []string{
		validPayload(t, 1, 1),
		bad,
		validPayload(t, 2, 2),
	})

	assert.Len(t, out.Records, 2)
	require.Len(t, out.Failures, 1)

	err := out.Err()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 1)

	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Same(t, out.Failures[0], recErr)
	assert.Equal(t, 1, recErr.Index)
	assert.Equal(t, bad, recErr.Payload)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestProcessBatchMultipleFailures(t *testing.T) {
	e := New(wordCounter, nil)

	out := e.ProcessBatch(context.Background(), []string{
		malformedPayload(t),
		validPayload(t, 1, 1),
		`not json at all`,
		validPayload(t, 2, 2),
		rawEvent(t, map[string]any{"apiOperation": "TextCompletion", "response": `{"usage":{}}`}),
	})

	assert.Len(t, out.Records, 2)
	require.Len(t, out.Failures, 3)

	errs := multierr.Errors(out.Err())
	require.Len(t, errs, 3)
	assert.ErrorIs(t, errs[0], ErrMalformedFrame)
	assert.ErrorIs(t, errs[1], ErrMalformedEvent)
	assert.ErrorIs(t, errs[2], ErrMissingUsageFields)
	assert.Equal(t, []int{0, 2, 4}, []int{out.Failures[0].Index, out.Failures[1].Index, out.Failures[2].Index})
}

func TestProcessBatchSkipsInvalidEvents(t *testing.T) {
	e := New(wordCounter, nil, WithLogger(zaptest.NewLogger(t)))

	out := e.ProcessBatch(context.Background(), []string{
		rawEvent(t, map[string]any{"response": `{"usage":{"prompt_tokens":1,"completion_tokens":1}}`}),
		rawEvent(t, map[string]any{"apiOperation": "ChatCompletion", "response": ""}),
		rawEvent(t, map[string]any{"apiOperation": "ChatCompletion"}),
		`null`,
		validPayload(t, 4, 4),
	})

	assert.NoError(t, out.Err())
	assert.Len(t, out.Records, 1)
	assert.Empty(t, out.Failures)
	assert.Equal(t, 4, out.Skipped)
	assert.Equal(t, 5, out.Total())
}

func TestProcessBatchRecorderError(t *testing.T) {
	sinkErr := errors.New("sink unavailable")
	e := New(wordCounter, RecorderFunc(func(context.Context, models.UsageRecord) error {
		return sinkErr
	}))

	out := e.ProcessBatch(context.Background(), []string{validPayload(t, 1, 2)})

	assert.Empty(t, out.Records)
	require.Len(t, out.Failures, 1)
	assert.ErrorIs(t, out.Err(), sinkErr)
}

func TestProcessBatchConcurrent(t *testing.T) {
	rec := &memRecorder{}
	e := New(wordCounter, rec, WithConcurrency(8))

	payloads := make([]string, 50)
	for i := range payloads {
		if i%10 == 3 {
			payloads[i] = malformedPayload(t)
			continue
		}
		payloads[i] = validPayload(t, i, 1)
	}

	out := e.ProcessBatch(context.Background(), payloads)

	assert.Len(t, out.Records, 45)
	assert.Len(t, out.Failures, 5)
	assert.Len(t, multierr.Errors(out.Err()), 5)

	ids := make(map[string]bool)
	for _, r := range out.Records {
		assert.False(t, ids[r.ID], "duplicate id %s", r.ID)
		ids[r.ID] = true
	}
	assert.Len(t, rec.recs, 45)
}

func TestProcessBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(wordCounter, nil)
	out := e.ProcessBatch(ctx, []string{validPayload(t, 1, 1), validPayload(t, 2, 2)})

	assert.Empty(t, out.Records)
	require.Len(t, out.Failures, 2)
	assert.ErrorIs(t, out.Err(), context.Canceled)
}

func TestProcessBatchEmpty(t *testing.T) {
	out := New(wordCounter, nil).ProcessBatch(context.Background(), nil)
	assert.NoError(t, out.Err())
	assert.Equal(t, 0, out.Total())
}

func TestSinkFailureKeepsRecordID(t *testing.T) {
	sinkErr := errors.New("sink down")
	e := New(wordCounter, RecorderFunc(func(context.Context, models.UsageRecord) error { return sinkErr }))

	out := e.ProcessBatch(context.Background(), []string{validPayload(t, 5, 3), `not json`})

	require.Len(t, out.Failures, 2)
	assert.ErrorIs(t, out.Failures[0], sinkErr)
	assert.NotEmpty(t, out.Failures[0].RecordID)
	assert.Empty(t, out.Failures[1].RecordID)
}

func TestProcessItemsReusesRecordID(t *testing.T) {
	rec := &memRecorder{}
	e := New(wordCounter, rec)

	out := e.ProcessItems(context.Background(), []Item{
		{Payload: validPayload(t, 5, 3), RecordID: "rec-1"},
		{Payload: validPayload(t, 1, 1)},
	})

	require.NoError(t, out.Err())
	require.Len(t, out.Records, 2)
	assert.Equal(t, "rec-1", out.Records[0].ID)
	assert.NotEmpty(t, out.Records[1].ID)
	assert.NotEqual(t, "rec-1", out.Records[1].ID)
	assert.Equal(t, "rec-1", rec.recs[0].ID)
}
