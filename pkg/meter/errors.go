package meter

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidEvent marks an event lacking an operation or response. Such
	// events are skipped and never reported as batch failures.
	ErrInvalidEvent = errors.New("invalid api call event")
	// ErrMalformedEvent is returned when a raw payload is not an api call event.
	ErrMalformedEvent = errors.New("malformed api call event")
	// ErrMalformedRequest is returned when the request payload is not a JSON object.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrMalformedResponse is returned when a single-shot response cannot be read.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrMalformedFrame is returned when an incremental response line is not JSON.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMissingUsageFields is returned when a response lacks its usage counts.
	ErrMissingUsageFields = errors.New("missing usage fields")
)

// RecordError is the failure of one record within a batch.
type RecordError struct {
	Index   int
	Payload string
	// RecordID is the id the record was, or would have been, recorded under.
	// It is empty when the record failed before its usage was computed.
	RecordID string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d: %v", e.Index, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
