package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const dashscopeImageURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text2image/image-synthesis"

var imageStyles = []string{"auto", "photography", "portrait", "3d", "anime", "oil painting", "watercolor", "sketch"}

// GenerateImageTool generates an image via the DashScope wanx text2image
// API, downloads the result and saves it under SaveDir. Without an API key
// it degrades to an explanatory message instead of failing the turn.
type GenerateImageTool struct {
	APIKey  string
	SaveDir string
	// Client and Endpoint are swappable for tests.
	Client   *http.Client
	Endpoint string
	Now      func() time.Time
}

func (t *GenerateImageTool) Name() string { return "generate_image" }
func (t *GenerateImageTool) Description() string {
	return "生成图片。当用户想要创建、画图、生成视觉内容时使用。"
}
func (t *GenerateImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "图片生成的描述提示词，越详细越好",
			},
			"style": map[string]interface{}{
				"type":        "string",
				"description": "图片风格",
				"enum":        imageStyles,
			},
		},
		"required": []string{"prompt"},
	}
}

type wanxRequest struct {
	Model      string         `json:"model"`
	Input      wanxInput      `json:"input"`
	Parameters wanxParameters `json:"parameters"`
}

type wanxInput struct {
	Prompt string `json:"prompt"`
}

type wanxParameters struct {
	Style string `json:"style"`
	Size  string `json:"size"`
	N     int    `json:"n"`
}

type wanxResponse struct {
	Output struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	} `json:"output"`
	Message string `json:"message"`
}

func (t *GenerateImageTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	style, _ := args["style"].(string)
	if style == "" || style == "auto" {
		style = "<auto>"
	}

	if t.APIKey == "" {
		return "图片生成功能未配置。请设置 DASHSCOPE_API_KEY 或在配置中填写 qwen 提供商的 api_key。", nil
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = dashscopeImageURL
	}

	body, err := json.Marshal(wanxRequest{
		Model:      "wanx-v1",
		Input:      wanxInput{Prompt: prompt},
		Parameters: wanxParameters{Style: style, Size: "1024*1024", N: 1},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call image API: %w", err)
	}
	defer resp.Body.Close()

	var result wanxResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || len(result.Output.Results) == 0 {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("状态码 %d", resp.StatusCode)
		}
		return "", fmt.Errorf("image generation failed: %s", msg)
	}

	path, err := t.download(ctx, client, result.Output.Results[0].URL)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("图片生成成功！\n提示词: %s\n图片已保存至: %s\n可以用 [image:%s] 让我分析这张图片。", prompt, path, path), nil
}

func (t *GenerateImageTool) download(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected download status %d", resp.StatusCode)
	}

	dir := t.SaveDir
	if dir == "" {
		dir = "./data/generated_images"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create image dir: %w", err)
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	path := filepath.Join(dir, fmt.Sprintf("generated_%d.png", now().Unix()))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return path, nil
}
