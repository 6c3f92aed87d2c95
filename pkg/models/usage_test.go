package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsageRecord(t *testing.T) {
	rec := NewUsageRecord(ChatCompletion, "app-1", "2024-03-01T10:00:00Z", true, 5, 3)

	require.NotEmpty(t, rec.ID)
	assert.Equal(t, 8, rec.TotalTokens())
	assert.Equal(t, rec.ID, rec.Properties()["TokenInfoId"], "id must be stable across reads")

	other := NewUsageRecord(ChatCompletion, "app-1", "2024-03-01T10:00:00Z", true, 5, 3)
	assert.NotEqual(t, rec.ID, other.ID)
}

func TestTotalTokensFollowsCounts(t *testing.T) {
	rec := NewUsageRecord(TextCompletion, "app", "", false, 10, 0)
	rec.CompletionTokens = 7
	assert.Equal(t, 17, rec.TotalTokens())
}

func TestProperties(t *testing.T) {
	rec := NewUsageRecord(TextCompletion, "app-2", "ts", false, 12, 30)
	props := rec.Properties()

	assert.Equal(t, map[string]string{
		"TokenInfoId":      rec.ID,
		"ApiOperation":     "TextCompletion",
		"AppKey":           "app-2",
		"Timestamp":        "ts",
		"Stream":           "false",
		"PromptTokens":     "12",
		"CompletionTokens": "30",
		"TotalTokens":      "42",
	}, props)
	assert.Equal(t, props["TokenInfoId"], rec.Properties()["TokenInfoId"])
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("chatcompletion")
	require.NoError(t, err)
	assert.Equal(t, ChatCompletion, op)

	_, err = ParseOperation("Embedding")
	assert.Error(t, err)
}

func TestAPICallEventValid(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		valid bool
	}{
		{"complete", `{"apiOperation":"ChatCompletion","response":"{}"}`, true},
		{"missing operation", `{"response":"{}"}`, false},
		{"null operation", `{"apiOperation":null,"response":"{}"}`, false},
		{"missing response", `{"apiOperation":"TextCompletion"}`, false},
		{"empty response", `{"apiOperation":"TextCompletion","response":""}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ev APICallEvent
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ev))
			assert.Equal(t, tt.valid, ev.Valid())
		})
	}

	var nilEvent *APICallEvent
	assert.False(t, nilEvent.Valid())
}

func TestAPICallEventUnknownOperation(t *testing.T) {
	var ev APICallEvent
	err := json.Unmarshal([]byte(`{"apiOperation":"Embedding","response":"{}"}`), &ev)
	assert.Error(t, err)
}
