// Package llm provides the chat-completion client used by the agent loop.
package llm

import (
	"errors"
	"log/slog"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// ErrRateLimited marks a transient upstream rate-limit rejection.
// Callers distinguish it from all other failures for retry purposes.
var ErrRateLimited = errors.New("llm: rate limited")

// Message represents one turn in the prompt sent to the LLM, or the
// assistant turn that came back. The JSON tags match the OpenAI
// chat-completions wire format so the same struct serves both the
// request body and the persisted tool-call payload.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall is a structured request from the model to execute a named tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // always "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and the raw JSON argument string,
// exactly as the wire delivered it.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatResponse is the unified result of one chat-completion call.
type ChatResponse struct {
	Model   string
	Message Message

	// Token usage (when the provider reports it)
	InputTokens  int
	OutputTokens int
}

// Text returns the assistant text content, or "" when the model sent none.
func (r *ChatResponse) Text() string {
	if r.Message.Content == nil {
		return ""
	}
	return *r.Message.Content
}

// StringPtr is a convenience for building Message content values.
func StringPtr(s string) *string { return &s }
