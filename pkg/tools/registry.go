package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is the interface for all tools.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Definition is the provider-neutral description of a tool, handed to the
// LLM layer when building a request.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Registry manages available tools. It is constructed per agent rather than
// shared globally, so two agents can carry different tool sets.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. Re-registering a name replaces the
// previous tool without changing its position.
func (r *Registry) Register(tool Tool) {
	if _, ok := r.tools[tool.Name()]; !ok {
		r.order = append(r.order, tool.Name())
	}
	r.tools[tool.Name()] = tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []Tool {
	list := make([]Tool, 0, len(r.tools))
	for _, name := range r.order {
		list = append(list, r.tools[name])
	}
	return list
}

// Definitions returns the tool descriptions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.tools))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Execute runs a tool by name with raw JSON arguments and always returns a
// result string. Unknown tools, bad arguments and execution failures all
// come back as descriptive text so the conversation loop can feed them
// straight to the model instead of aborting the turn.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) string {
	tool, ok := r.tools[name]
	if !ok {
		return fmt.Sprintf("错误: 未知工具 %s", name)
	}

	args := make(map[string]interface{})
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return fmt.Sprintf("错误: 工具 %s 参数解析失败: %v", name, err)
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return fmt.Sprintf("错误: 工具 %s 执行失败: %v", name, err)
	}
	return result
}
