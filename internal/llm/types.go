// Package llm normalizes heterogeneous model providers behind one
// canonical request/response shape.
package llm

import "context"

// Message roles. The set is closed; providers reject anything else.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ContentPart is one element of a multimodal message body.
type ContentPart struct {
	Type     string `json:"type"` // "text" or "image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Message is a single turn-unit in canonical form. Content carries plain
// text; Parts, when non-nil, carries multimodal content and takes precedence.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolName   string        `json:"tool_name,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
}

// TextMessage builds a plain-text message.
func TextMessage(role, content string) Message {
	return Message{Role: role, Content: content}
}

// ToolCall is the canonical tool invocation request emitted by a model.
// Arguments holds the raw JSON string, deferring parsing to the registry.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is the provider-neutral tool declaration handed to Chat.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Result is the canonical outcome every backend normalizes into.
// Content may be empty when the model emitted only tool calls.
type Result struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// StreamFunc receives text deltas in arrival order.
type StreamFunc func(delta string)

// Client is the capability interface every provider variant implements.
// ChatStream still returns the full accumulated Result once the stream ends.
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []Tool) (*Result, error)
	ChatStream(ctx context.Context, messages []Message, tools []Tool, onDelta StreamFunc) (*Result, error)
}

// CountTokens estimates token count (rough approximation, ~4 chars/token).
func CountTokens(text string) int {
	return len(text) / 4
}
