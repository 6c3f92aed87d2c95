package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Operation identifies the kind of API call that was metered.
type Operation string

const (
	ChatCompletion Operation = "ChatCompletion"
	TextCompletion Operation = "TextCompletion"
)

// ParseOperation resolves an operation name, ignoring case.
func ParseOperation(s string) (Operation, error) {
	switch {
	case strings.EqualFold(s, string(ChatCompletion)):
		return ChatCompletion, nil
	case strings.EqualFold(s, string(TextCompletion)):
		return TextCompletion, nil
	}
	return "", fmt.Errorf("unknown api operation %q", s)
}

// UnmarshalJSON accepts the operation name as a JSON string.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("api operation: %w", err)
	}
	op, err := ParseOperation(s)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

func (o Operation) String() string { return string(o) }

// APICallEvent is one recorded call as delivered on the bus.
// Request and Response carry the raw upstream payloads as strings.
type APICallEvent struct {
	EventTime          string     `json:"eventTime"`
	APIOperation       *Operation `json:"apiOperation"`
	AppSubscriptionKey string     `json:"appSubscriptionKey"`
	Request            string     `json:"request"`
	Response           *string    `json:"response"`
}

// Valid reports whether the event carries the fields needed for metering.
func (e *APICallEvent) Valid() bool {
	return e != nil && e.APIOperation != nil && e.Response != nil && *e.Response != ""
}

// Operation returns the event operation, or "" when absent.
func (e *APICallEvent) Operation() Operation {
	if e == nil || e.APIOperation == nil {
		return ""
	}
	return *e.APIOperation
}

// ResponseBody returns the raw response, or "" when absent.
func (e *APICallEvent) ResponseBody() string {
	if e == nil || e.Response == nil {
		return ""
	}
	return *e.Response
}
