package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/nuwa-labs/nuwa/internal/config"
	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
	"github.com/nuwa-labs/nuwa/internal/llm"
	"github.com/nuwa-labs/nuwa/internal/memory"
	"github.com/nuwa-labs/nuwa/internal/metrics"
	"github.com/nuwa-labs/nuwa/pkg/tools"
)

// maxToolRounds bounds the number of tool-execution rounds per turn. After
// the ceiling one final model call produces the reply; tool requests in that
// final result are dropped.
const maxToolRounds = 5

// fallbackReply is returned when the model produced nothing usable.
const fallbackReply = "抱歉，我无法生成回复。"

// ChatService is the slice of the LLM layer the agent needs. The manager
// satisfies it.
type ChatService interface {
	Chat(ctx context.Context, provider string, messages []llm.Message, tools []llm.Tool) (*llm.Result, error)
	ChatStream(ctx context.Context, provider string, messages []llm.Message, tools []llm.Tool, onDelta llm.StreamFunc) (*llm.Result, error)
}

// Agent runs the multi-turn conversation loop: context assembly, model
// calls, sequential tool execution and memory extraction.
type Agent struct {
	cfg      config.AgentConfig
	chat     ChatService
	registry *tools.Registry
	memory   *memory.Manager
	metrics  *metrics.Metrics
	conv     *ConversationContext
	logger   *zap.Logger

	provider string

	// OnToolCall and OnToolResult fire around each tool execution so the
	// CLI can show progress. Both are optional.
	OnToolCall   func(name, args string)
	OnToolResult func(name, result string)
}

// New creates an agent. memory and metrics may be nil to disable those
// concerns.
func New(cfg config.AgentConfig, chat ChatService, registry *tools.Registry, mem *memory.Manager, m *metrics.Metrics, logger *zap.Logger) *Agent {
	return &Agent{
		cfg:      cfg,
		chat:     chat,
		registry: registry,
		memory:   mem,
		metrics:  m,
		conv:     NewConversationContext(cfg.SystemPrompt),
		logger:   logger,
	}
}

// SetProvider switches the provider used for subsequent turns. Empty means
// the configured default.
func (a *Agent) SetProvider(name string) {
	a.provider = name
}

// Provider returns the provider override, or empty for the default.
func (a *Agent) Provider() string {
	return a.provider
}

// History returns a copy of the conversation so far.
func (a *Agent) History() []llm.Message {
	return a.conv.History()
}

// Reset clears the conversation, keeping the system prompt.
func (a *Agent) Reset() {
	a.conv.Reset()
}

// Restore replaces the conversation with a saved snapshot. The configured
// system prompt is kept; system messages inside the snapshot are dropped.
func (a *Agent) Restore(messages []llm.Message) {
	a.conv.Reset()
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		a.conv.Append(msg)
	}
}

// Memory exposes the memory manager, or nil when memory is disabled.
func (a *Agent) Memory() *memory.Manager {
	return a.memory
}

// Chat runs one user turn to completion and returns the reply.
func (a *Agent) Chat(ctx context.Context, input string) (string, error) {
	return a.run(ctx, input, nil)
}

// ChatStream runs one user turn, forwarding text deltas of model output to
// onDelta as they arrive.
func (a *Agent) ChatStream(ctx context.Context, input string, onDelta llm.StreamFunc) (string, error) {
	return a.run(ctx, input, onDelta)
}

func (a *Agent) run(ctx context.Context, input string, onDelta llm.StreamFunc) (string, error) {
	start := time.Now()

	userMsg := BuildUserMessage(input, a.cfg.EnableMultimodal)
	a.conv.Append(userMsg)

	messages := a.buildMessages(input)
	defs := a.toolDefinitions()

	reply := ""

	for round := 1; ; round++ {
		result, err := a.call(ctx, messages, defs, onDelta)
		if err != nil {
			if a.metrics != nil {
				a.metrics.RecordProviderError(apperrors.GetCode(err))
			}
			return "", err
		}

		if a.metrics != nil {
			a.metrics.RecordTokens(result.Usage.PromptTokens, result.Usage.CompletionTokens)
		}

		if len(result.ToolCalls) == 0 || round > maxToolRounds {
			reply = result.Content
			break
		}

		a.logger.Debug("model requested tools",
			zap.Int("round", round),
			zap.Int("count", len(result.ToolCalls)))

		assistantMsg := llm.Message{
			Role:      llm.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		}
		a.conv.Append(assistantMsg)
		messages = append(messages, assistantMsg)

		// Tools run sequentially in the order the model asked for them.
		for _, tc := range result.ToolCalls {
			if a.OnToolCall != nil {
				a.OnToolCall(tc.Name, tc.Arguments)
			}

			output := a.executeTool(ctx, tc)

			if a.OnToolResult != nil {
				a.OnToolResult(tc.Name, output)
			}
			if a.metrics != nil {
				a.metrics.RecordToolCall(tc.Name)
			}

			toolMsg := llm.Message{
				Role:       llm.RoleTool,
				Content:    output,
				ToolName:   tc.Name,
				ToolCallID: tc.ID,
			}
			a.conv.Append(toolMsg)
			messages = append(messages, toolMsg)
		}
	}

	if reply == "" {
		reply = fallbackReply
	}

	a.conv.Append(llm.TextMessage(llm.RoleAssistant, reply))

	if a.memory != nil && a.cfg.EnableMemory {
		saved := a.memory.ExtractAndSave(input)
		if a.metrics != nil && len(saved) > 0 {
			a.metrics.RecordMemorySave(len(saved))
		}
	}

	if a.metrics != nil {
		a.metrics.RecordTurn(time.Since(start))
	}

	return reply, nil
}

func (a *Agent) call(ctx context.Context, messages []llm.Message, defs []llm.Tool, onDelta llm.StreamFunc) (*llm.Result, error) {
	if onDelta != nil {
		return a.chat.ChatStream(ctx, a.provider, messages, defs, onDelta)
	}
	return a.chat.Chat(ctx, a.provider, messages, defs)
}

// buildMessages assembles the request: system prompt with recalled
// memories folded in, then the history window ending with the new user
// message.
func (a *Agent) buildMessages(input string) []llm.Message {
	window := a.conv.Window(a.cfg.HistoryLimit)

	system := window[0]
	if a.memory != nil && a.cfg.EnableMemory {
		items, err := a.memory.Recall(input, 5)
		if err != nil {
			a.logger.Warn("memory recall failed", zap.Error(err))
		} else if block := memory.FormatForContext(items); block != "" {
			system.Content = system.Content + "\n\n" + block
		}
	}

	messages := make([]llm.Message, 0, len(window))
	messages = append(messages, system)
	messages = append(messages, window[1:]...)
	return messages
}

func (a *Agent) toolDefinitions() []llm.Tool {
	if !a.cfg.EnableTools || a.registry == nil {
		return nil
	}

	defs := a.registry.Definitions()
	out := make([]llm.Tool, len(defs))
	for i, d := range defs {
		out[i] = llm.Tool{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		}
	}
	return out
}

func (a *Agent) executeTool(ctx context.Context, tc llm.ToolCall) string {
	if a.registry == nil {
		return "错误: 未知工具 " + tc.Name
	}
	return a.registry.Execute(ctx, tc.Name, tc.Arguments)
}
