package models

import "encoding/json"

// ChatMessage is a single message of a chat completion request.
// Content is either a string or an array of content parts.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ContentPart is one element of a multi-part message content.
type ContentPart struct {
	Type string  `json:"type"`
	Text *string `json:"text,omitempty"`
}

// CompletionRequest covers the request fields metering looks at for both
// chat and text completions. Prompt is a string or an array of strings.
type CompletionRequest struct {
	Model    string          `json:"model,omitempty"`
	Prompt   json.RawMessage `json:"prompt,omitempty"`
	Messages []ChatMessage   `json:"messages,omitempty"`
	Stream   json.RawMessage `json:"stream,omitempty"`
}

// Usage is the usage block reported by a single-shot response.
// Fields are pointers so an absent count can be told apart from zero, and
// numbers so whole-valued floats such as 5.0 are still accepted.
type Usage struct {
	PromptTokens     *json.Number `json:"prompt_tokens"`
	CompletionTokens *json.Number `json:"completion_tokens"`
}

// CompletionResponse is a single-shot response document.
type CompletionResponse struct {
	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage"`
}
