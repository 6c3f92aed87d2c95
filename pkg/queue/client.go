package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/pario-ai/chargeback/pkg/config"
)

// Client enqueues batches.
type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

// NewClient connects to the queue's Redis.
func NewClient(cfg config.QueueConfig) *Client {
	return &Client{
		client:   asynq.NewClient(redisOpt(cfg)),
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
	}
}

func redisOpt(cfg config.QueueConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// Enqueue adds a batch to the queue and returns the task id. The batch id,
// when set, doubles as the task id so a batch is never queued twice.
func (c *Client) Enqueue(ctx context.Context, p BatchPayload) (string, error) {
	task, err := NewBatchTask(p)
	if err != nil {
		return "", err
	}

	opts := []asynq.Option{
		asynq.MaxRetry(c.maxRetry),
		asynq.Retention(24 * time.Hour),
	}
	if c.queue != "" {
		opts = append(opts, asynq.Queue(c.queue))
	}
	if p.BatchID != "" {
		opts = append(opts, asynq.TaskID(p.BatchID))
	}

	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue batch: %w", err)
	}
	return info.ID, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
