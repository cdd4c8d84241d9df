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

const (
	anthropicDefaultBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicClient speaks the Anthropic messages API. Unlike the
// OpenAI-compatible family it takes the system prompt as a dedicated field,
// uses content blocks throughout, and declares tools with input_schema.
type AnthropicClient struct {
	provider config.Provider
	baseURL  string
	client   *http.Client
}

// NewAnthropicClient creates an Anthropic messages API client.
func NewAnthropicClient(provider config.Provider) *AnthropicClient {
	timeout := provider.Timeout
	if timeout == 0 {
		timeout = 60
	}

	baseURL := provider.BaseURL
	if baseURL == "" {
		baseURL = anthropicDefaultBaseURL
	}

	return &AnthropicClient{
		provider: provider,
		baseURL:  baseURL,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
	}
}

type anthropicRequest struct {
	Model     string          `json:"model"`
	System    string          `json:"system,omitempty"`
	Messages  []anthMessage   `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Tools     []anthTool      `json:"tools,omitempty"`
	Stream    bool            `json:"stream,omitempty"`
}

type anthMessage struct {
	Role    string      `json:"role"`
	Content []anthBlock `json:"content"`
}

type anthBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image
	Source *anthImageSource `json:"source,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthResponse struct {
	ID      string      `json:"id"`
	Content []anthBlock `json:"content"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	StopReason string `json:"stop_reason"`
}

// buildRequest extracts the system message into the dedicated field and
// converts the remaining messages into content-block form.
func (c *AnthropicClient) buildRequest(messages []Message, tools []Tool, stream bool) (*anthropicRequest, error) {
	maxTokens := c.provider.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	req := &anthropicRequest{
		Model:     c.provider.Model,
		MaxTokens: maxTokens,
		Stream:    stream,
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			req.System = msg.Content

		case RoleTool:
			// Tool results travel as user-role tool_result blocks. Merge
			// consecutive results into one user message, the API requires it.
			block := anthBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			}
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == RoleUser &&
				len(req.Messages[n-1].Content) > 0 && req.Messages[n-1].Content[0].Type == "tool_result" {
				req.Messages[n-1].Content = append(req.Messages[n-1].Content, block)
			} else {
				req.Messages = append(req.Messages, anthMessage{Role: RoleUser, Content: []anthBlock{block}})
			}

		case RoleAssistant:
			blocks := make([]anthBlock, 0, 1+len(msg.ToolCalls))
			if msg.Content != "" {
				blocks = append(blocks, anthBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := json.RawMessage(tc.Arguments)
				if !json.Valid(input) {
					wrapped, _ := json.Marshal(map[string]string{"raw": tc.Arguments})
					input = wrapped
				}
				blocks = append(blocks, anthBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				blocks = append(blocks, anthBlock{Type: "text", Text: ""})
			}
			req.Messages = append(req.Messages, anthMessage{Role: RoleAssistant, Content: blocks})

		case RoleUser:
			blocks, err := c.userBlocks(msg)
			if err != nil {
				return nil, err
			}
			req.Messages = append(req.Messages, anthMessage{Role: RoleUser, Content: blocks})
		}
	}

	for _, t := range tools {
		schema := t.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		req.Tools = append(req.Tools, anthTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}

	return req, nil
}

func (c *AnthropicClient) userBlocks(msg Message) ([]anthBlock, error) {
	if len(msg.Parts) == 0 {
		return []anthBlock{{Type: "text", Text: msg.Content}}, nil
	}

	blocks := make([]anthBlock, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, anthBlock{Type: "text", Text: p.Text})
		case "image":
			source, err := anthropicImageSource(p.ImageURL)
			if err != nil {
				return nil, apperrors.Wrap(err, "LLM_003", "failed to encode image "+p.ImageURL)
			}
			blocks = append(blocks, anthBlock{Type: "image", Source: source})
		default:
			return nil, apperrors.New("LLM_003", "unknown content part type: "+p.Type)
		}
	}
	return blocks, nil
}

// anthropicImageSource inlines a local image file as base64. The messages
// API has no URL source for arbitrary paths, so local references must be
// embedded before transmission.
func anthropicImageSource(ref string) (*anthImageSource, error) {
	if !isLocalPath(ref) {
		return nil, fmt.Errorf("remote image references are not supported: %s", ref)
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, err
	}

	mediaType := "image/png"
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".jpg", ".jpeg":
		mediaType = "image/jpeg"
	case ".gif":
		mediaType = "image/gif"
	case ".webp":
		mediaType = "image/webp"
	}

	return &anthImageSource{
		Type:      "base64",
		MediaType: mediaType,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func (c *AnthropicClient) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.provider.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
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

// Chat sends a non-streaming messages request and normalizes the content
// blocks into the canonical result.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*Result, error) {
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

	var parsed anthResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apperrors.Wrap(err, "LLM_003", "failed to decode response")
	}

	result := &Result{
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}

	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}

	return result, nil
}

// Anthropic stream event payloads, only the fields we consume.
type anthStreamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
	} `json:"delta,omitempty"`

	Usage *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage,omitempty"`

	Message *struct {
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message,omitempty"`
}

// ChatStream streams text deltas and accumulates the final result,
// including any tool_use blocks assembled from partial JSON fragments.
func (c *AnthropicClient) ChatStream(ctx context.Context, messages []Message, tools []Tool, onDelta StreamFunc) (*Result, error) {
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

	result := &Result{}
	var content strings.Builder
	blocks := make(map[int]*accumulatingToolCall)
	order := make([]int, 0, 2)

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

		var event anthStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				result.Usage.PromptTokens = event.Message.Usage.InputTokens
			}
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				blocks[event.Index] = &accumulatingToolCall{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
				order = append(order, event.Index)
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				content.WriteString(event.Delta.Text)
				if onDelta != nil {
					onDelta(event.Delta.Text)
				}
			case "input_json_delta":
				if atc, ok := blocks[event.Index]; ok {
					atc.args.WriteString(event.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if event.Usage != nil {
				result.Usage.CompletionTokens = event.Usage.OutputTokens
			}
		}
	}

	result.Content = content.String()
	for _, idx := range order {
		atc := blocks[idx]
		args := atc.args.String()
		if args == "" {
			args = "{}"
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        atc.id,
			Name:      atc.name,
			Arguments: args,
		})
	}

	return result, nil
}
