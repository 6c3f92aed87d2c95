// Package queue carries chargeback batches over an asynq (Redis) task queue.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TypeBatch is the task type of one batch of raw API call events.
const TypeBatch = "chargeback:batch"

// BatchPayload is the task payload. Events hold the raw event JSON strings
// exactly as they arrived on the bus.
type BatchPayload struct {
	BatchID string   `json:"batch_id"`
	Events  []string `json:"events"`
}

// NewBatchTask encodes a batch as an asynq task.
func NewBatchTask(p BatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode batch payload: %w", err)
	}
	return asynq.NewTask(TypeBatch, data), nil
}
