package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nuwa-labs/nuwa/internal/textscore"
)

// Manager layers recall, extraction and profile assembly over the store.
type Manager struct {
	store  *Store
	logger *zap.Logger
}

// NewManager wraps a store.
func NewManager(store *Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Store exposes the underlying store.
func (m *Manager) Store() *Store {
	return m.store
}

// scored pairs an item with its relevance for sorting.
type scored struct {
	item  Item
	score float64
}

// Recall returns up to limit memories ranked by relevance to the query.
// Ties keep insertion order, so repeated recalls over the same data are
// deterministic.
func (m *Manager) Recall(query string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 5
	}

	items, err := m.store.ListAll()
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" {
		return nil, nil
	}
	queryTokens := textscore.Tokenize(queryLower)

	candidates := make([]scored, 0, len(items))
	for _, item := range items {
		score := textscore.Score(strings.ToLower(item.Content), queryLower, queryTokens)
		if score <= 0 {
			continue
		}
		weight := item.Importance
		if weight <= 0 {
			weight = 0.1
		}
		candidates = append(candidates, scored{item: item, score: score * weight})
	}

	// Stable sort on a seq-ordered slice: equal scores stay in insertion
	// order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]Item, len(candidates))
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		result[i] = c.item
		ids[i] = c.item.ID
	}

	if err := m.store.TouchAccess(ids); err != nil {
		m.logger.Warn("failed to bump memory access counts", zap.Error(err))
	}

	return result, nil
}

// FormatForContext renders recalled memories as a context block for the
// system side of the conversation. Empty input yields an empty string so
// callers can append unconditionally.
func FormatForContext(items []Item) string {
	if len(items) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("[用户相关记忆]\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "- [%s] %s\n", item.Kind, item.Content)
	}
	return sb.String()
}

var interestPattern = regexp.MustCompile(`对(.{1,30}?)感兴趣`)

// ExtractAndSave scans a user message for memory-worthy statements and
// persists them. Extraction is best effort: sentences that match no
// trigger are skipped silently, and a storage failure is logged rather
// than surfaced, so the conversation never stalls on memory writes.
func (m *Manager) ExtractAndSave(userMessage string) []Item {
	var saved []Item

	source := truncateRunes(strings.TrimSpace(userMessage), 100)

	for _, sentence := range splitSentences(userMessage) {
		item, ok := classify(sentence)
		if !ok {
			continue
		}
		item.Source = source
		if m.isDuplicate(item) {
			continue
		}
		if err := m.store.Save(&item); err != nil {
			m.logger.Warn("failed to save extracted memory", zap.Error(err))
			continue
		}
		m.logger.Debug("memory extracted",
			zap.String("kind", item.Kind),
			zap.String("content", item.Content))
		saved = append(saved, item)
	}

	return saved
}

// classify maps a sentence onto a memory kind by trigger phrase.
func classify(sentence string) (Item, bool) {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return Item{}, false
	}

	switch {
	case strings.Contains(sentence, "我是") || strings.Contains(sentence, "我叫") || strings.Contains(sentence, "我的名字"):
		return Item{Kind: KindUserInfo, Content: sentence, Importance: 0.9}, true
	case strings.Contains(sentence, "喜欢") || strings.Contains(sentence, "偏好"):
		return Item{Kind: KindUserPreference, Content: sentence, Importance: 0.8}, true
	case interestPattern.MatchString(sentence):
		return Item{Kind: KindTopicInterest, Content: sentence, Importance: 0.7}, true
	}
	return Item{}, false
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '。', '！', '？', '\n', '!', '?', ';', '；':
			return true
		}
		return false
	})
}

func (m *Manager) isDuplicate(item Item) bool {
	existing, err := m.store.GetByKind(item.Kind)
	if err != nil {
		return false
	}
	for _, e := range existing {
		if e.Content == item.Content {
			return true
		}
	}
	return false
}

// Add saves an explicit memory with a validated kind.
func (m *Manager) Add(kind, content string, importance float64) (*Item, error) {
	if !KnownKinds[kind] {
		return nil, fmt.Errorf("unknown memory kind: %s", kind)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	item := &Item{Kind: kind, Content: content, Importance: importance}
	if err := m.store.Save(item); err != nil {
		return nil, err
	}
	return item, nil
}

// UserProfile groups the user-centric memories for display.
type UserProfile struct {
	Info        []string
	Preferences []string
	Interests   []string
}

// GetUserProfile assembles the user profile from stored memories.
func (m *Manager) GetUserProfile() (*UserProfile, error) {
	profile := &UserProfile{}

	for kind, target := range map[string]*[]string{
		KindUserInfo:       &profile.Info,
		KindUserPreference: &profile.Preferences,
		KindTopicInterest:  &profile.Interests,
	} {
		items, err := m.store.GetByKind(kind)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			*target = append(*target, item.Content)
		}
	}

	return profile, nil
}
