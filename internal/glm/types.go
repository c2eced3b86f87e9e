// Package glm provides a client for a GLM-style chat-completion vendor API.
package glm

import (
	"encoding/json"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message on the wire.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`  // assistant role only
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool role only
}

// ToolCall represents a tool call requested by the model. Arguments are
// kept as raw JSON text; parsing is the dispatcher's concern so that a
// malformed payload fails one call, not the whole response decode.
type ToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type,omitempty"` // "function"
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// ToolSchema describes a callable tool to the model.
type ToolSchema struct {
	Type     string `json:"type"` // "function"
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

// Name returns the function name of the schema.
func (s ToolSchema) Name() string { return s.Function.Name }

// NewToolSchema builds a function tool schema.
func NewToolSchema(name, description string, parameters map[string]any) ToolSchema {
	var s ToolSchema
	s.Type = "function"
	s.Function.Name = name
	s.Function.Description = description
	s.Function.Parameters = parameters
	return s
}

// ChatRequest is a chat-completion request.
type ChatRequest struct {
	Model            string       `json:"model"`
	Messages         []Message    `json:"messages"`
	MaxTokens        int          `json:"max_tokens,omitempty"`
	Temperature      float64      `json:"temperature,omitempty"`
	TopP             float64      `json:"top_p,omitempty"`
	PresencePenalty  float64      `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64      `json:"frequency_penalty,omitempty"`
	Stop             []string     `json:"stop,omitempty"`
	RequestID        string       `json:"request_id,omitempty"`
	Tools            []ToolSchema `json:"tools,omitempty"`
}

// ChatResponse is the decoded completion response.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *VendorErrorBody `json:"error,omitempty"`
}

// First returns the first choice's message, or a zero Message when the
// vendor returned no choices.
func (r *ChatResponse) First() Message {
	if len(r.Choices) == 0 {
		return Message{}
	}
	return r.Choices[0].Message
}

// VendorErrorBody is the vendor-level error object. It can appear in a
// non-200 response body or, for some failure classes, inside a 200.
type VendorErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
