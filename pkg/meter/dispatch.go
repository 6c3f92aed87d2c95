package meter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pario-ai/chargeback/pkg/models"
)

// Mode selects how token counts are derived for a call.
type Mode int

const (
	// SingleShot trusts the usage block of a complete JSON response.
	SingleShot Mode = iota
	// Incremental tokenizes the request and every response frame.
	Incremental
)

func (m Mode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "single-shot"
}

// Streamed reports whether the mode corresponds to a streamed call.
func (m Mode) Streamed() bool { return m == Incremental }

// ParseRequest decodes a request payload. An empty payload is an empty request.
func ParseRequest(payload string) (models.CompletionRequest, error) {
	var req models.CompletionRequest
	if strings.TrimSpace(payload) == "" {
		return req, nil
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return req, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return req, nil
}

// SelectMode picks Incremental only when the request carries "stream": true.
func SelectMode(req models.CompletionRequest) Mode {
	if len(req.Stream) == 0 {
		return SingleShot
	}
	var stream bool
	if err := json.Unmarshal(req.Stream, &stream); err != nil || !stream {
		return SingleShot
	}
	return Incremental
}
