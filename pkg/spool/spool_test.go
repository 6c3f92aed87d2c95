package spool

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/pario-ai/chargeback/pkg/config"
	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/pipeline"
)

type call struct {
	source   string
	batchID  string
	payloads []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
}

func (f *fakeRunner) Run(_ context.Context, source, batchID string, payloads []string) (string, *meter.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{source, batchID, payloads})
	return batchID, &meter.Outcome{}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newWatcher(t *testing.T, runner BatchRunner) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(config.SpoolConfig{Dir: dir}, runner, zaptest.NewLogger(t))
	w.debounce = 20 * time.Millisecond
	return w, dir
}

func TestProcessFile(t *testing.T) {
	runner := &fakeRunner{}
	w, dir := newWatcher(t, runner)

	path := filepath.Join(dir, "batch-001.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"a\":1}\n{\"b\":2}\n"), 0o644))

	require.NoError(t, w.ProcessFile(context.Background(), path))

	require.Len(t, runner.calls, 1)
	assert.Equal(t, pipeline.SourceSpool, runner.calls[0].source)
	assert.Equal(t, "batch-001", runner.calls[0].batchID)
	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, runner.calls[0].payloads)

	assert.NoFileExists(t, path)
	assert.FileExists(t, path+".done")
}

func TestProcessFileEmptyIsLeft(t *testing.T) {
	runner := &fakeRunner{}
	w, dir := newWatcher(t, runner)

	path := filepath.Join(dir, "pending.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	require.NoError(t, w.ProcessFile(context.Background(), path))
	assert.Empty(t, runner.calls)
	assert.FileExists(t, path)
}

func TestProcessFileMissing(t *testing.T) {
	w, dir := newWatcher(t, &fakeRunner{})
	assert.NoError(t, w.ProcessFile(context.Background(), filepath.Join(dir, "gone.jsonl")))
}

func TestProcessPending(t *testing.T) {
	runner := &fakeRunner{}
	w, dir := newWatcher(t, runner)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.jsonl"), []byte("x\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jsonl"), []byte(`["y"]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.jsonl.done"), []byte("z\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("z\n"), 0o644))

	n, err := w.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "a", runner.calls[0].batchID)
	assert.Equal(t, "b", runner.calls[1].batchID)
}

func TestMatches(t *testing.T) {
	w, _ := newWatcher(t, &fakeRunner{})

	assert.True(t, w.matches("/spool/x.jsonl"))
	assert.False(t, w.matches("/spool/x.jsonl.done"))
	assert.False(t, w.matches("/spool/x.json"))
}

func TestRunPicksUpNewFiles(t *testing.T) {
	runner := &fakeRunner{}
	w, dir := newWatcher(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(dir, "live.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	require.Eventually(t, func() bool {
		_, err := os.Stat(path + ".done")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, runner.count())

	cancel()
	assert.NoError(t, <-done)
}
