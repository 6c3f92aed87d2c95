package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/budget"
	"github.com/pario-ai/chargeback/pkg/config"
	"github.com/pario-ai/chargeback/pkg/deadletter"
	"github.com/pario-ai/chargeback/pkg/logging"
	"github.com/pario-ai/chargeback/pkg/meter"
	"github.com/pario-ai/chargeback/pkg/metrics"
	"github.com/pario-ai/chargeback/pkg/pipeline"
	"github.com/pario-ai/chargeback/pkg/sink"
	"github.com/pario-ai/chargeback/pkg/tokenizer"
	"github.com/pario-ai/chargeback/pkg/tracker"
)

// app is the wired metering stack shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	tracker  *tracker.SQLiteTracker
	dead     *deadletter.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	pipeline *pipeline.Pipeline

	closers []func() error
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp(configPath string) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	if err := a.wire(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	counter, err := tokenizer.Load(cfg.Tokenizer)
	if err != nil {
		return fmt.Errorf("init tokenizer: %w", err)
	}

	var recorders sink.Multi
	if cfg.Sinks.Tracker {
		a.tracker, err = tracker.New(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init tracker: %w", err)
		}
		a.closers = append(a.closers, a.tracker.Close)
		recorders = append(recorders, a.tracker)
	}
	if cfg.Sinks.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.metrics = metrics.New(a.registry)
		recorders = append(recorders, a.metrics)
	}
	if cfg.Sinks.Log {
		recorders = append(recorders, sink.NewLog(a.logger.Named("usage")))
	}
	if rs := cfg.Sinks.RedisStream; rs.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     rs.Addr,
			Password: rs.Password,
			DB:       rs.DB,
		})
		a.closers = append(a.closers, client.Close)
		recorders = append(recorders, sink.NewRedisStream(client, rs.Stream, rs.MaxLen))
	}

	engine := meter.New(counter, recorders,
		meter.WithLogger(a.logger.Named("meter")),
		meter.WithConcurrency(cfg.Meter.Concurrency),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger.Named("pipeline")),
		pipeline.WithTimeout(cfg.Meter.BatchTimeout),
	}
	if cfg.DeadLetter.Enabled {
		a.dead, err = deadletter.New(cfg.DeadLetter.DBPath, cfg.DeadLetter.RetentionDays)
		if err != nil {
			return fmt.Errorf("init dead-letter store: %w", err)
		}
		a.closers = append(a.closers, a.dead.Close)
		opts = append(opts, pipeline.WithFailureStore(a.dead))
	}
	if a.metrics != nil {
		opts = append(opts, pipeline.WithObserver(a.metrics))
	}
	if cfg.Budget.Enabled && a.tracker != nil {
		opts = append(opts, pipeline.WithBudgets(budget.New(cfg.Budget.Policies, a.tracker)))
	}
	a.pipeline = pipeline.New(engine, opts...)
	return nil
}

// Close releases every store and connection the app opened.
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	_ = a.logger.Sync()
	return err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
