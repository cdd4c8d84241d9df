package llm

import (
	"sort"
	"strings"
)

// streamAccumulator folds OpenAI-style stream chunks into a final Result.
// Tool call fragments arrive keyed by index with the id and name on the
// first fragment and the arguments spread across the rest.
type streamAccumulator struct {
	content   strings.Builder
	toolCalls map[int]*accumulatingToolCall
	usage     Usage
}

type accumulatingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newStreamAccumulator() *streamAccumulator {
	return &streamAccumulator{
		toolCalls: make(map[int]*accumulatingToolCall),
	}
}

// addChunk consumes one chunk and returns the text delta it carried, if any.
func (acc *streamAccumulator) addChunk(chunk oaStreamChunk) string {
	if chunk.Usage != nil {
		acc.usage.PromptTokens = chunk.Usage.PromptTokens
		acc.usage.CompletionTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return ""
	}

	delta := chunk.Choices[0].Delta

	for _, tc := range delta.ToolCalls {
		atc, exists := acc.toolCalls[tc.Index]
		if !exists {
			atc = &accumulatingToolCall{}
			acc.toolCalls[tc.Index] = atc
		}
		if tc.ID != "" {
			atc.id = tc.ID
		}
		if tc.Function.Name != "" {
			atc.name = tc.Function.Name
		}
		if tc.Function.Arguments != "" {
			atc.args.WriteString(tc.Function.Arguments)
		}
	}

	if delta.Content != "" {
		acc.content.WriteString(delta.Content)
	}
	return delta.Content
}

// result assembles the canonical result, tool calls ordered by stream index.
func (acc *streamAccumulator) result() *Result {
	res := &Result{
		Content: acc.content.String(),
		Usage:   acc.usage,
	}

	indexes := make([]int, 0, len(acc.toolCalls))
	for idx := range acc.toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	for _, idx := range indexes {
		atc := acc.toolCalls[idx]
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:        atc.id,
			Name:      atc.name,
			Arguments: atc.args.String(),
		})
	}

	return res
}
