package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nuwa-labs/nuwa/internal/config"
	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

// OpenAIClient speaks the OpenAI-compatible chat completions API. It serves
// the openai, deepseek, qwen and zhipu provider tags, which differ only in
// base URL and model name.
type OpenAIClient struct {
	provider config.Provider
	client   *http.Client
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(provider config.Provider) *OpenAIClient {
	timeout := provider.Timeout
	if timeout == 0 {
		timeout = 60
	}

	return &OpenAIClient{
		provider: provider,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

// Wire types for the chat completions endpoint.

type oaMessage struct {
	Role       string       `json:"role"`
	Content    any          `json:"content"`
	ToolCalls  []oaToolCall `json:"tool_calls,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Name       string       `json:"name,omitempty"`
}

type oaToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type oaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type oaRequest struct {
	Model       string      `json:"model"`
	Messages    []oaMessage `json:"messages"`
	Tools       []oaTool    `json:"tools,omitempty"`
	ToolChoice  string      `json:"tool_choice,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
}

type oaResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int       `json:"index"`
		Message      oaMessage `json:"message"`
		FinishReason string    `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type oaStreamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content   string `json:"content,omitempty"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func (c *OpenAIClient) buildRequest(messages []Message, tools []Tool, stream bool) (*oaRequest, error) {
	req := &oaRequest{
		Model:       c.provider.Model,
		MaxTokens:   c.provider.MaxTokens,
		Temperature: c.provider.Temperature,
		Stream:      stream,
	}

	for _, msg := range messages {
		wm := oaMessage{
			Role:       msg.Role,
			ToolCallID: msg.ToolCallID,
			Name:       msg.ToolName,
		}

		if len(msg.Parts) > 0 {
			parts, err := encodeContentParts(msg.Parts)
			if err != nil {
				return nil, err
			}
			wm.Content = parts
		} else {
			wm.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			wtc := oaToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}

		req.Messages = append(req.Messages, wm)
	}

	for _, t := range tools {
		wt := oaTool{Type: "function"}
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, wt)
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	return req, nil
}

// encodeContentParts translates canonical parts into the OpenAI content
// array, inlining local image files as data URLs. A bare filesystem path is
// never sent on the wire.
func encodeContentParts(parts []ContentPart) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, map[string]any{"type": "text", "text": p.Text})
		case "image":
			url := p.ImageURL
			if isLocalPath(url) {
				encoded, err := encodeImageFile(url)
				if err != nil {
					return nil, apperrors.Wrap(err, "LLM_003", "failed to encode image "+url)
				}
				url = encoded
			}
			out = append(out, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": url},
			})
		default:
			return nil, apperrors.New("LLM_003", "unknown content part type: "+p.Type)
		}
	}
	return out, nil
}

func isLocalPath(ref string) bool {
	return !strings.HasPrefix(ref, "http://") &&
		!strings.HasPrefix(ref, "https://") &&
		!strings.HasPrefix(ref, "data:")
}

func encodeImageFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}

	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (c *OpenAIClient) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.provider.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.provider.APIKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, apperrors.Wrap(err, "LLM_002", "request failed")
	}

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, bodyBytes)
	}

	return resp, nil
}

// statusError maps HTTP status codes onto the error taxonomy: credential
// problems are configuration errors, 429 is rate limiting, the rest are
// transport failures.
func statusError(status int, body []byte) error {
	detail := fmt.Sprintf("status %d: %s", status, truncate(string(body), 500))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.New("LLM_001", "authentication failed, "+detail)
	case status == http.StatusTooManyRequests:
		return apperrors.New("LLM_004", detail)
	default:
		return apperrors.New("LLM_002", detail)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Chat sends a non-streaming chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*Result, error) {
	req, err := c.buildRequest(messages, tools, false)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed oaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(err, "LLM_003", "failed to decode response")
	}

	if len(parsed.Choices) == 0 {
		return nil, apperrors.New("LLM_003", "response contained no choices")
	}

	choice := parsed.Choices[0]
	result := &Result{
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}

	if s, ok := choice.Message.Content.(string); ok {
		result.Content = s
	}

	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return result, nil
}

// ChatStream sends a streaming request, invoking onDelta per text delta and
// returning the accumulated result once the stream ends.
func (c *OpenAIClient) ChatStream(ctx context.Context, messages []Message, tools []Tool, onDelta StreamFunc) (*Result, error) {
	req, err := c.buildRequest(messages, tools, true)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.post(ctx, body, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	acc := newStreamAccumulator()
	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.Wrap(err, "LLM_002", "failed to read stream")
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk oaStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue // skip malformed chunks
		}

		if delta := acc.addChunk(chunk); delta != "" && onDelta != nil {
			onDelta(delta)
		}
	}

	return acc.result(), nil
}
