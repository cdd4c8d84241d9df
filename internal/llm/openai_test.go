package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuwa-labs/nuwa/internal/config"
	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

func TestBuildRequestToolChoice(t *testing.T) {
	c := NewOpenAIClient(config.Provider{Model: "gpt-4o-mini"})

	req, err := c.buildRequest([]Message{TextMessage(RoleUser, "hi")}, nil, false)
	require.NoError(t, err)
	assert.Empty(t, req.ToolChoice)

	req, err = c.buildRequest([]Message{TextMessage(RoleUser, "hi")}, []Tool{{Name: "calculator"}}, false)
	require.NoError(t, err)
	assert.Equal(t, "auto", req.ToolChoice)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "calculator", req.Tools[0].Function.Name)
}

func TestEncodeContentPartsInlinesLocalImages(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "photo.jpg")
	require.NoError(t, os.WriteFile(imgPath, []byte{0xff, 0xd8, 0xff}, 0644))

	parts, err := encodeContentParts([]ContentPart{
		{Type: "text", Text: "看这张图"},
		{Type: "image", ImageURL: imgPath},
		{Type: "image", ImageURL: "https://example.com/a.png"},
	})
	require.NoError(t, err)
	require.Len(t, parts, 3)

	assert.Equal(t, "text", parts[0]["type"])

	imagePart := parts[1]["image_url"].(map[string]any)
	assert.Contains(t, imagePart["url"].(string), "data:image/jpeg;base64,")

	remotePart := parts[2]["image_url"].(map[string]any)
	assert.Equal(t, "https://example.com/a.png", remotePart["url"])
}

func TestEncodeContentPartsMissingImage(t *testing.T) {
	_, err := encodeContentParts([]ContentPart{
		{Type: "image", ImageURL: "/nonexistent/photo.png"},
	})
	require.Error(t, err)
	assert.Equal(t, "LLM_003", apperrors.GetCode(err))
}

func TestStatusErrorCodes(t *testing.T) {
	tests := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, "LLM_001"},
		{http.StatusForbidden, "LLM_001"},
		{http.StatusTooManyRequests, "LLM_004"},
		{http.StatusInternalServerError, "LLM_002"},
		{http.StatusBadGateway, "LLM_002"},
	}

	for _, tt := range tests {
		err := statusError(tt.status, []byte("boom"))
		assert.Equal(t, tt.code, apperrors.GetCode(err), "status %d", tt.status)
	}
}

func TestOpenAIChatNormalizesToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req oaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "deepseek-chat", req.Model)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": null,
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "calculator", "arguments": "{\"expression\":\"2+2\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5}
		}`))
	}))
	defer server.Close()

	c := NewOpenAIClient(config.Provider{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "deepseek-chat",
	})

	result, err := c.Chat(context.Background(), []Message{TextMessage(RoleUser, "2+2等于几")}, []Tool{{Name: "calculator"}})
	require.NoError(t, err)

	assert.Empty(t, result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "call_1", result.ToolCalls[0].ID)
	assert.Equal(t, "calculator", result.ToolCalls[0].Name)
	assert.JSONEq(t, `{"expression":"2+2"}`, result.ToolCalls[0].Arguments)
	assert.Equal(t, 12, result.Usage.PromptTokens)
	assert.Equal(t, 5, result.Usage.CompletionTokens)
}

func TestOpenAIChatMalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	c := NewOpenAIClient(config.Provider{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini"})

	_, err := c.Chat(context.Background(), []Message{TextMessage(RoleUser, "hi")}, nil)
	require.Error(t, err)
	assert.Equal(t, "LLM_003", apperrors.GetCode(err))
}

func TestOpenAIChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "usage": {}}`))
	}))
	defer server.Close()

	c := NewOpenAIClient(config.Provider{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini"})

	_, err := c.Chat(context.Background(), []Message{TextMessage(RoleUser, "hi")}, nil)
	require.Error(t, err)
	assert.Equal(t, "LLM_003", apperrors.GetCode(err))
}

func TestOpenAIChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"index":0,"delta":{"content":"你"}}]}`,
			`{"choices":[{"index":0,"delta":{"content":"好"}}]}`,
			`not json, must be skipped`,
			`{"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2}}`,
		}
		for _, ch := range chunks {
			w.Write([]byte("data: " + ch + "\n\n"))
		}
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer server.Close()

	c := NewOpenAIClient(config.Provider{APIKey: "k", BaseURL: server.URL, Model: "gpt-4o-mini"})

	var deltas []string
	result, err := c.ChatStream(context.Background(), []Message{TextMessage(RoleUser, "hi")}, nil, func(delta string) {
		deltas = append(deltas, delta)
	})
	require.NoError(t, err)

	assert.Equal(t, "你好", result.Content)
	assert.Equal(t, []string{"你", "好"}, deltas)
	assert.Equal(t, 3, result.Usage.PromptTokens)
	assert.Equal(t, 2, result.Usage.CompletionTokens)
}
