package meter

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/pario-ai/chargeback/pkg/models"
)

// singleShotUsage reads the authoritative usage counts from a complete response.
func singleShotUsage(response string) (prompt, completion int, err error) {
	var resp models.CompletionResponse
	if err := json.Unmarshal([]byte(response), &resp); err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if resp.Usage == nil {
		return 0, 0, fmt.Errorf("%w: %w: no usage object", ErrMalformedResponse, ErrMissingUsageFields)
	}
	prompt, err = usageCount("prompt_tokens", resp.Usage.PromptTokens)
	if err != nil {
		return 0, 0, err
	}
	completion, err = usageCount("completion_tokens", resp.Usage.CompletionTokens)
	if err != nil {
		return 0, 0, err
	}
	return prompt, completion, nil
}

func usageCount(field string, v *json.Number) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: %w: usage.%s", ErrMalformedResponse, ErrMissingUsageFields, field)
	}
	n, err := v.Int64()
	if err != nil {
		f, ferr := v.Float64()
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, fmt.Errorf("%w: usage.%s is not a whole number: %s", ErrMalformedResponse, field, v)
		}
		n = int64(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: usage.%s is negative", ErrMalformedResponse, field)
	}
	return int(n), nil
}
