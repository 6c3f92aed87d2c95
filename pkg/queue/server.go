package queue

import (
	"context"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/config"
)

// Server is the asynq worker that consumes batch tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer creates a worker server routing batch tasks to h.
func NewServer(cfg config.QueueConfig, h *Handler, logger *zap.Logger) *Server {
	queues := map[string]int{"default": 1}
	if cfg.Queue != "" && cfg.Queue != "default" {
		queues[cfg.Queue] = 6
	}

	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
			Logger: logger.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBatch, h.HandleBatch)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run processes tasks until ctx is done, then shuts the worker down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("queue worker starting")
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.logger.Info("queue worker stopping")
	s.server.Shutdown()
	return nil
}
