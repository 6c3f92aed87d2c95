package meter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/tokenizer"
)

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// promptTokens tokenizes the input of a streamed call.
func promptTokens(counter tokenizer.Counter, op models.Operation, req models.CompletionRequest) (int, error) {
	if op == models.TextCompletion {
		return promptText(counter, req.Prompt)
	}

	total := 0
	for i, msg := range req.Messages {
		n, err := messageContent(counter, msg.Content)
		if err != nil {
			return 0, fmt.Errorf("%w: messages[%d].content: %w", ErrMalformedRequest, i, err)
		}
		total += n
	}
	return total, nil
}

// promptText counts a prompt given as a string or an array of strings.
func promptText(counter tokenizer.Counter, raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}
	if raw[0] == '[' {
		var parts []string
		if err := json.Unmarshal(raw, &parts); err != nil {
			return 0, fmt.Errorf("%w: prompt: %w", ErrMalformedRequest, err)
		}
		total := 0
		for _, p := range parts {
			total += counter.Count(p)
		}
		return total, nil
	}
	var prompt string
	if err := json.Unmarshal(raw, &prompt); err != nil {
		return 0, fmt.Errorf("%w: prompt: %w", ErrMalformedRequest, err)
	}
	return counter.Count(prompt), nil
}

// messageContent counts a chat message content given as a string or as an
// array of parts, of which only the text parts are counted.
func messageContent(counter tokenizer.Counter, raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}
	if raw[0] == '[' {
		var parts []models.ContentPart
		if err := json.Unmarshal(raw, &parts); err != nil {
			return 0, err
		}
		total := 0
		for _, p := range parts {
			if p.Text != nil {
				total += counter.Count(*p.Text)
			}
		}
		return total, nil
	}
	var content string
	if err := json.Unmarshal(raw, &content); err != nil {
		return 0, err
	}
	return counter.Count(content), nil
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// completionTokens folds over every line of an incremental response and sums
// the token counts of the text fragments the frames carry.
func completionTokens(counter tokenizer.Counter, op models.Operation, response string) (int, error) {
	total := 0
	lineNo := 0
	for line := range strings.Lines(response) {
		lineNo++
		fragment, err := frameFragment(op, line)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNo, err)
		}
		total += counter.Count(fragment)
	}
	return total, nil
}

// frameFragment extracts the text delta of one response line. Blank lines,
// the [DONE] sentinel and frames without choices yield an empty fragment.
func frameFragment(op models.Operation, line string) (string, error) {
	data := strings.TrimSpace(line)
	data = strings.TrimSpace(strings.TrimPrefix(data, dataPrefix))
	if data == "" || data == doneSentinel {
		return "", nil
	}

	if op == models.TextCompletion {
		var chunk openai.CompletionResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return looseFragment(op, data)
		}
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		return chunk.Choices[0].Text, nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return looseFragment(op, data)
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	return chunk.Choices[0].Delta.Content, nil
}

// looseFrame reads a frame whose fields do not match the typed chunk, for
// example a numeric delta. Only the first choice is kept.
type looseFrame struct {
	Choices []struct {
		Text  json.RawMessage `json:"text"`
		Delta struct {
			Content json.RawMessage `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// looseFragment counts a non-string fragment by its JSON text. A line that
// is not a frame at all is ErrMalformedFrame.
func looseFragment(op models.Operation, data string) (string, error) {
	var frame looseFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if len(frame.Choices) == 0 {
		return "", nil
	}
	raw := frame.Choices[0].Delta.Content
	if op == models.TextCompletion {
		raw = frame.Choices[0].Text
	}
	return rawText(raw), nil
}

// rawText renders a JSON value as text: strings unquoted, null empty and
// anything else compacted.
func rawText(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
