package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/nuwa-labs/nuwa/internal/textscore"
)

// document is one indexed file.
type document struct {
	Path    string
	Title   string
	Content string
	lower   string
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Path    string
	Title   string
	Score   float64
	Snippet string
}

// DocSearcher indexes text files under a directory and keeps the index
// fresh by watching the directory for changes.
type DocSearcher struct {
	dir    string
	logger *zap.Logger

	mu   sync.RWMutex
	docs []document

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDocSearcher loads all .md and .txt files under dir and starts a
// watcher that reloads the index when the directory changes.
func NewDocSearcher(dir string, logger *zap.Logger) (*DocSearcher, error) {
	s := &DocSearcher{
		dir:    dir,
		logger: logger,
		done:   make(chan struct{}),
	}

	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// The index still works without live reload.
		logger.Warn("doc watcher unavailable", zap.Error(err))
		return s, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logger.Warn("doc watcher could not watch directory", zap.String("dir", dir), zap.Error(err))
		return s, nil
	}

	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *DocSearcher) watch() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("doc reindex failed", zap.Error(err))
			} else {
				s.logger.Debug("docs reindexed", zap.String("trigger", event.Name))
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("doc watcher error", zap.Error(err))
		case <-s.done:
			return
		}
	}
}

// Reload reindexes the directory. It is called automatically by the
// watcher but can be invoked directly.
func (s *DocSearcher) Reload() error {
	return s.reload()
}

func (s *DocSearcher) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read docs directory: %w", err)
	}

	docs := make([]document, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".md" && ext != ".txt" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("skipping unreadable doc", zap.String("path", path), zap.Error(err))
			continue
		}

		content := string(data)
		docs = append(docs, document{
			Path:    path,
			Title:   strings.TrimSuffix(entry.Name(), ext),
			Content: content,
			lower:   strings.ToLower(content),
		})
	}

	s.mu.Lock()
	s.docs = docs
	s.mu.Unlock()
	return nil
}

// Count returns the number of indexed documents.
func (s *DocSearcher) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close stops the watcher.
func (s *DocSearcher) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

// Search ranks documents against the query. Scoring favors an exact
// substring match, then token overlap, then capped token frequency, so a
// document mentioning every query word beats one repeating a single word.
func (s *DocSearcher) Search(query string, limit int) []SearchResult {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = 3
	}

	queryLower := strings.ToLower(query)
	queryTokens := textscore.Tokenize(queryLower)

	s.mu.RLock()
	docs := s.docs
	s.mu.RUnlock()

	results := make([]SearchResult, 0, len(docs))
	for _, doc := range docs {
		score := textscore.Score(doc.lower, queryLower, queryTokens)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			Path:    doc.Path,
			Title:   doc.Title,
			Score:   score,
			Snippet: extractSnippet(doc.Content, doc.lower, queryLower, queryTokens),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// extractSnippet returns a window around the first match of the query (or
// any of its tokens) in the document.
func extractSnippet(content, contentLower, queryLower string, queryTokens []string) string {
	idx := strings.Index(contentLower, queryLower)
	if idx < 0 {
		for _, tok := range queryTokens {
			if i := strings.Index(contentLower, tok); i >= 0 {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		idx = 0
	}

	runes := []rune(content)
	runeIdx := len([]rune(content[:idx]))

	start := runeIdx - 80
	if start < 0 {
		start = 0
	}
	end := runeIdx + 120
	if end > len(runes) {
		end = len(runes)
	}

	snippet := strings.TrimSpace(string(runes[start:end]))
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// SearchDocsTool exposes the local document index as a tool.
type SearchDocsTool struct {
	Searcher *DocSearcher
}

func (t *SearchDocsTool) Name() string { return "search_docs" }
func (t *SearchDocsTool) Description() string {
	return "在本地知识库文档中搜索相关内容"
}
func (t *SearchDocsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "搜索关键词",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "返回结果数量（默认 3）",
			},
		},
		"required": []string{"query"},
	}
}

func (t *SearchDocsTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	limit := 3
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}

	results := t.Searcher.Search(query, limit)
	if len(results) == 0 {
		return fmt.Sprintf("没有找到与 %q 相关的文档。", query), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "找到 %d 条相关文档:\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n%s\n", i+1, r.Title, r.Snippet)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
