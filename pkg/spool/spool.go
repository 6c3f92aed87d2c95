// Package spool meters batch files dropped into a directory.
//
// Each file matching the configured pattern is one batch, in JSON Lines or
// JSON array form. Once processed the file is renamed with the done suffix so
// it is never metered twice.
package spool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/config"
	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/pipeline"
)

const defaultDebounce = 250 * time.Millisecond

// BatchRunner processes a batch of raw payloads.
type BatchRunner interface {
	Run(ctx context.Context, source, batchID string, payloads []string) (string, *meter.Outcome)
}

// Watcher processes batch files as they appear in a directory.
type Watcher struct {
	dir        string
	pattern    string
	doneSuffix string
	runner     BatchRunner
	logger     *zap.Logger
	debounce   time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a Watcher for cfg.Dir.
func New(cfg config.SpoolConfig, runner BatchRunner, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	pattern := cfg.Pattern
	if pattern == "" {
		pattern = "*.jsonl"
	}
	suffix := cfg.DoneSuffix
	if suffix == "" {
		suffix = ".done"
	}
	return &Watcher{
		dir:        cfg.Dir,
		pattern:    pattern,
		doneSuffix: suffix,
		runner:     runner,
		logger:     logger,
		debounce:   defaultDebounce,
		timers:     make(map[string]*time.Timer),
	}
}

// Run processes files already in the directory, then every matching file
// created or written until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0750); err != nil {
		return fmt.Errorf("create spool dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching spool dir", zap.String("dir", w.dir), zap.String("pattern", w.pattern))

	if _, err := w.ProcessPending(ctx); err != nil {
		w.logger.Error("process pending files", zap.Error(err))
	}

	ready := make(chan string, 16)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.schedule(ctx, event.Name, ready)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("spool watcher error", zap.Error(err))

		case path := <-ready:
			if err := w.ProcessFile(ctx, path); err != nil {
				w.logger.Error("process spool file", zap.String("file", path), zap.Error(err))
			}
		}
	}
}

// schedule debounces events for path so a file is processed once its writer
// has gone quiet.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) matches(path string) bool {
	name := filepath.Base(path)
	if strings.HasSuffix(name, w.doneSuffix) {
		return false
	}
	ok, err := filepath.Match(w.pattern, name)
	return err == nil && ok
}

// ProcessPending processes every matching file currently in the directory
// in name order, returning how many were processed.
func (w *Watcher) ProcessPending(ctx context.Context) (int, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, w.pattern))
	if err != nil {
		return 0, fmt.Errorf("list spool dir: %w", err)
	}
	sort.Strings(matches)

	n := 0
	for _, path := range matches {
		if !w.matches(path) {
			continue
		}
		if err := w.ProcessFile(ctx, path); err != nil {
			w.logger.Error("process spool file", zap.String("file", path), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// ProcessFile meters one batch file and marks it done. The file name without
// extension is used as the batch id. An empty file is left in place, since
// its writer may not have flushed yet.
func (w *Watcher) ProcessFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open batch file: %w", err)
	}
	payloads, err := pipeline.ReadBatch(f)
	f.Close()
	if errors.Is(err, pipeline.ErrEmptyBatch) {
		w.logger.Debug("empty spool file, waiting", zap.String("file", path))
		return nil
	}
	if err != nil {
		return err
	}

	name := filepath.Base(path)
	batchID := strings.TrimSuffix(name, filepath.Ext(name))
	_, out := w.runner.Run(ctx, pipeline.SourceSpool, batchID, payloads)

	if err := os.Rename(path, path+w.doneSuffix); err != nil {
		return fmt.Errorf("mark batch file done: %w", err)
	}
	w.logger.Info("spool file processed",
		zap.String("file", name),
		zap.Int("succeeded", len(out.Records)),
		zap.Int("failed", len(out.Failures)),
		zap.Int("skipped", out.Skipped),
	)
	return nil
}
