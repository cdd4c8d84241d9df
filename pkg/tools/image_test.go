package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateImageToolWithoutKey(t *testing.T) {
	tool := &GenerateImageTool{}

	out, err := tool.Execute(context.Background(), map[string]interface{}{"prompt": "一只猫"})
	require.NoError(t, err)
	assert.Contains(t, out, "未配置")
	assert.Contains(t, out, "DASHSCOPE_API_KEY")
}

func TestGenerateImageToolRequiresPrompt(t *testing.T) {
	tool := &GenerateImageTool{APIKey: "sk-test"}

	_, err := tool.Execute(context.Background(), map[string]interface{}{})
	assert.Error(t, err)
}

func TestGenerateImageToolSavesImage(t *testing.T) {
	png := []byte("\x89PNG fake image bytes")

	mux := http.NewServeMux()
	mux.HandleFunc("/image.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(png)
	})

	var gotAuth string
	var gotReq wanxRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/image.png" {
			mux.ServeHTTP(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprintf(w, `{"output":{"results":[{"url":%q}]}}`, "http://"+r.Host+"/image.png")
	}))
	defer srv.Close()

	dir := t.TempDir()
	fixed := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	tool := &GenerateImageTool{
		APIKey:   "sk-test",
		SaveDir:  dir,
		Client:   srv.Client(),
		Endpoint: srv.URL + "/generate",
		Now:      func() time.Time { return fixed },
	}

	out, err := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "一只戴帽子的猫",
		"style":  "anime",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "wanx-v1", gotReq.Model)
	assert.Equal(t, "一只戴帽子的猫", gotReq.Input.Prompt)
	assert.Equal(t, "anime", gotReq.Parameters.Style)

	path := filepath.Join(dir, fmt.Sprintf("generated_%d.png", fixed.Unix()))
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, png, data)
}

func TestGenerateImageToolDefaultStyle(t *testing.T) {
	var gotReq wanxRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"quota exceeded"}`)
	}))
	defer srv.Close()

	tool := &GenerateImageTool{APIKey: "sk-test", Client: srv.Client(), Endpoint: srv.URL}

	_, err := tool.Execute(context.Background(), map[string]interface{}{"prompt": "一只猫"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, "<auto>", gotReq.Parameters.Style)
}
