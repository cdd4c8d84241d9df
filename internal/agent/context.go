// Package agent implements the conversation loop, history management and
// multimodal input handling.
package agent

import (
	"sync"

	"github.com/nuwa-labs/nuwa/internal/llm"
)

// ConversationContext holds the message history of one conversation. The
// system message is always index 0; everything after it is append-only
// until Reset.
type ConversationContext struct {
	mu       sync.RWMutex
	messages []llm.Message
}

// NewConversationContext creates a context seeded with the system prompt.
func NewConversationContext(systemPrompt string) *ConversationContext {
	return &ConversationContext{
		messages: []llm.Message{llm.TextMessage(llm.RoleSystem, systemPrompt)},
	}
}

// Append adds a message to the history.
func (c *ConversationContext) Append(msg llm.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// History returns a copy of the full history including the system message.
func (c *ConversationContext) History() []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]llm.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages excluding the system message.
func (c *ConversationContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages) - 1
}

// Reset drops everything but the system message.
func (c *ConversationContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = c.messages[:1]
}

// SystemPrompt returns the current system prompt.
func (c *ConversationContext) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.messages[0].Content
}

// Window returns the system message plus the most recent limit messages.
// When the cut would land inside a tool exchange, the window widens
// backwards to the assistant message that issued the tool calls, so a tool
// result never appears without its request.
func (c *ConversationContext) Window(limit int) []llm.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rest := c.messages[1:]
	start := 0
	if limit > 0 && len(rest) > limit {
		start = len(rest) - limit
		for start > 0 && rest[start].Role == llm.RoleTool {
			start--
		}
	}

	out := make([]llm.Message, 0, 1+len(rest)-start)
	out = append(out, c.messages[0])
	out = append(out, rest[start:]...)
	return out
}
