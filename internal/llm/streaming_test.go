package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(t *testing.T, raw string) oaStreamChunk {
	t.Helper()
	var c oaStreamChunk
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestStreamAccumulatorAssemblesToolCalls(t *testing.T) {
	acc := newStreamAccumulator()

	// Two tool calls interleaved across chunks, arguments split mid-JSON.
	acc.addChunk(chunk(t, `{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"calculator","arguments":"{\"expr"}}]}}]}`))
	acc.addChunk(chunk(t, `{"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"get_datetime","arguments":"{}"}}]}}]}`))
	acc.addChunk(chunk(t, `{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ession\":\"1+1\"}"}}]}}]}`))
	acc.addChunk(chunk(t, `{"usage":{"prompt_tokens":10,"completion_tokens":7}}`))

	result := acc.result()
	require.Len(t, result.ToolCalls, 2)

	assert.Equal(t, "call_a", result.ToolCalls[0].ID)
	assert.Equal(t, "calculator", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"expression":"1+1"}`, result.ToolCalls[0].Arguments)

	assert.Equal(t, "call_b", result.ToolCalls[1].ID)
	assert.Equal(t, "get_datetime", result.ToolCalls[1].Name)

	assert.Equal(t, 10, result.Usage.PromptTokens)
	assert.Equal(t, 7, result.Usage.CompletionTokens)
}

func TestStreamAccumulatorContentDeltas(t *testing.T) {
	acc := newStreamAccumulator()

	d1 := acc.addChunk(chunk(t, `{"choices":[{"delta":{"content":"今天"}}]}`))
	d2 := acc.addChunk(chunk(t, `{"choices":[{"delta":{"content":"天气不错"}}]}`))
	d3 := acc.addChunk(chunk(t, `{"choices":[]}`))

	assert.Equal(t, "今天", d1)
	assert.Equal(t, "天气不错", d2)
	assert.Empty(t, d3)

	result := acc.result()
	assert.Equal(t, "今天天气不错", result.Content)
	assert.Empty(t, result.ToolCalls)
}
