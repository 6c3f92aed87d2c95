package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/tokenizer"
)

var words = tokenizer.CounterFunc(func(s string) int { return len(strings.Fields(s)) })

const validEvent = `{"eventTime":"t","apiOperation":"ChatCompletion","appSubscriptionKey":"app-1",` +
	`"request":"{\"messages\":[{\"role\":\"user\",\"content\":\"hi\"}]}",` +
	`"response":"{\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":6}}"}`

type savedBatch struct {
	batchID, source string
	failures        []*meter.RecordError
}

type fakeStore struct {
	saved []savedBatch
	err   error
}

func (f *fakeStore) Save(_ context.Context, batchID, source string, failures []*meter.RecordError) error {
	f.saved = append(f.saved, savedBatch{batchID, source, failures})
	return f.err
}

type fakeObserver struct {
	sources  []string
	outcomes []*meter.Outcome
}

func (f *fakeObserver) ObserveBatch(source string, out *meter.Outcome, _ time.Duration) {
	f.sources = append(f.sources, source)
	f.outcomes = append(f.outcomes, out)
}

type fakeBudgets struct {
	over []models.BudgetStatus
	seen []models.UsageRecord
}

func (f *fakeBudgets) Exceeded(_ context.Context, recs []models.UsageRecord) ([]models.BudgetStatus, error) {
	f.seen = append(f.seen, recs...)
	return f.over, nil
}

func TestRunGeneratesBatchID(t *testing.T) {
	p := New(meter.New(words, nil))

	id, out := p.Run(context.Background(), SourceCLI, "", []string{validEvent})

	assert.NotEmpty(t, id)
	require.Len(t, out.Records, 1)
	assert.Equal(t, 10, out.Records[0].TotalTokens())
	assert.NoError(t, out.Err())
}

func TestRunSavesFailures(t *testing.T) {
	store := &fakeStore{}
	obs := &fakeObserver{}
	p := New(meter.New(words, nil), WithFailureStore(store), WithObserver(obs))

	id, out := p.Run(context.Background(), SourceHTTP, "batch-7", []string{validEvent, "not json", "{}"})

	assert.Equal(t, "batch-7", id)
	assert.Len(t, out.Records, 1)
	assert.Equal(t, 1, out.Skipped)
	require.Len(t, store.saved, 1)
	assert.Equal(t, "batch-7", store.saved[0].batchID)
	assert.Equal(t, SourceHTTP, store.saved[0].source)
	require.Len(t, store.saved[0].failures, 1)
	assert.Equal(t, 1, store.saved[0].failures[0].Index)
	assert.ErrorIs(t, store.saved[0].failures[0], meter.ErrMalformedEvent)

	assert.Equal(t, []string{SourceHTTP}, obs.sources)
	assert.Same(t, out, obs.outcomes[0])
}

func TestRunNoFailuresSkipsStore(t *testing.T) {
	store := &fakeStore{}
	p := New(meter.New(words, nil), WithFailureStore(store))

	p.Run(context.Background(), SourceQueue, "b", []string{validEvent})
	assert.Empty(t, store.saved)
}

func TestRunStoreErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := New(meter.New(words, nil),
		WithFailureStore(&fakeStore{err: errors.New("disk full")}),
		WithLogger(zap.New(core)),
	)

	_, out := p.Run(context.Background(), SourceSpool, "b", []string{"bad"})

	assert.Len(t, out.Failures, 1)
	assert.Equal(t, 1, logs.FilterMessage("save failed records").Len())
}

func TestRunWarnsOnBudget(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	budgets := &fakeBudgets{over: []models.BudgetStatus{{
		Policy: models.BudgetPolicy{AppKey: "app-1", MaxTokens: 5, Period: models.BudgetDaily},
		Used:   10,
	}}}
	p := New(meter.New(words, nil), WithBudgets(budgets), WithLogger(zap.New(core)))

	p.Run(context.Background(), SourceCLI, "b", []string{validEvent})

	require.Len(t, budgets.seen, 1)
	entries := logs.FilterMessage("token budget exceeded").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "app-1", entries[0].ContextMap()["app_key"])
}

func TestRunTimeout(t *testing.T) {
	slow := meter.RecorderFunc(func(ctx context.Context, _ models.UsageRecord) error {
		<-ctx.Done()
		return ctx.Err()
	})
	store := &fakeStore{}
	p := New(meter.New(words, slow), WithTimeout(10*time.Millisecond), WithFailureStore(store))

	_, out := p.Run(context.Background(), SourceCLI, "b", []string{validEvent, validEvent})

	require.Len(t, out.Failures, 2)
	assert.ErrorIs(t, out.Err(), context.DeadlineExceeded)
	require.Len(t, store.saved, 1, "failures are saved after the batch deadline")
}
