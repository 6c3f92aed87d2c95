package models

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// UsageEventName is the telemetry event name usage records are published under.
const UsageEventName = "OpenAI Tokens"

// UsageRecord is the chargeback entry derived from one API call.
type UsageRecord struct {
	ID               string    `json:"token_info_id"`
	Operation        Operation `json:"api_operation"`
	AppKey           string    `json:"app_key"`
	Timestamp        string    `json:"timestamp"`
	Stream           bool      `json:"stream"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
}

// NewUsageRecord builds a record with a freshly generated id.
func NewUsageRecord(op Operation, appKey, timestamp string, stream bool, promptTokens, completionTokens int) UsageRecord {
	return UsageRecord{
		ID:               uuid.NewString(),
		Operation:        op,
		AppKey:           appKey,
		Timestamp:        timestamp,
		Stream:           stream,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
}

// TotalTokens is always derived from the prompt and completion counts.
func (r UsageRecord) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Properties flattens the record into the string map telemetry sinks expect.
func (r UsageRecord) Properties() map[string]string {
	return map[string]string{
		"TokenInfoId":      r.ID,
		"ApiOperation":     r.Operation.String(),
		"AppKey":           r.AppKey,
		"Timestamp":        r.Timestamp,
		"Stream":           strconv.FormatBool(r.Stream),
		"PromptTokens":     strconv.Itoa(r.PromptTokens),
		"CompletionTokens": strconv.Itoa(r.CompletionTokens),
		"TotalTokens":      strconv.Itoa(r.TotalTokens()),
	}
}

// UsageSummary aggregates recorded usage for an app key and operation.
type UsageSummary struct {
	AppKey          string    `json:"app_key"`
	Operation       Operation `json:"api_operation"`
	RequestCount    int       `json:"request_count"`
	StreamCount     int       `json:"stream_count"`
	TotalPrompt     int64     `json:"total_prompt"`
	TotalCompletion int64     `json:"total_completion"`
	TotalTokens     int64     `json:"total_tokens"`
}

// StoredUsage is a usage record as read back from the store.
type StoredUsage struct {
	UsageRecord
	RecordedAt time.Time `json:"recorded_at"`
}
