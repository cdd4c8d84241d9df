package memory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newManagerFixture(t *testing.T) *Manager {
	t.Helper()
	return NewManager(newStoreFixture(t), zap.NewNop())
}

func TestRecallRanksByRelevance(t *testing.T) {
	m := newManagerFixture(t)

	require.NoError(t, m.store.Save(&Item{Kind: KindUserPreference, Content: "喜欢喝咖啡", Importance: 0.8}))
	require.NoError(t, m.store.Save(&Item{Kind: KindUserInfo, Content: "我叫小明", Importance: 0.9}))
	require.NoError(t, m.store.Save(&Item{Kind: KindTopicInterest, Content: "对围棋感兴趣", Importance: 0.7}))

	items, err := m.Recall("咖啡", 5)
	require.NoError(t, err)
	require.NotEmpty(t, items)
	assert.Equal(t, "喜欢喝咖啡", items[0].Content)
}

func TestRecallStableTieBreak(t *testing.T) {
	m := newManagerFixture(t)

	// Same kind, same importance, both match the query equally.
	require.NoError(t, m.store.Save(&Item{Kind: KindFact, Content: "苹果是红色的", Importance: 0.5}))
	require.NoError(t, m.store.Save(&Item{Kind: KindFact, Content: "苹果是甜的", Importance: 0.5}))

	for i := 0; i < 3; i++ {
		items, err := m.Recall("苹果", 5)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "苹果是红色的", items[0].Content, "recall %d", i)
		assert.Equal(t, "苹果是甜的", items[1].Content, "recall %d", i)
	}
}

func TestRecallWeightsImportance(t *testing.T) {
	m := newManagerFixture(t)

	require.NoError(t, m.store.Save(&Item{Kind: KindInteraction, Content: "聊过天气", Importance: 0.1}))
	require.NoError(t, m.store.Save(&Item{Kind: KindUserInfo, Content: "聊过天气预报的用户", Importance: 0.9}))

	items, err := m.Recall("天气", 5)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, KindUserInfo, items[0].Kind)
}

func TestRecallLimitAndEmptyQuery(t *testing.T) {
	m := newManagerFixture(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.store.Save(&Item{Kind: KindFact, Content: "面条很好吃", Importance: 0.5}))
	}

	items, err := m.Recall("面条", 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)

	items, err = m.Recall("", 3)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRecallBumpsAccessCount(t *testing.T) {
	m := newManagerFixture(t)

	item := &Item{Kind: KindFact, Content: "长城在中国", Importance: 0.5}
	require.NoError(t, m.store.Save(item))

	_, err := m.Recall("长城", 5)
	require.NoError(t, err)

	got, err := m.store.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestFormatForContext(t *testing.T) {
	assert.Empty(t, FormatForContext(nil))

	out := FormatForContext([]Item{
		{Kind: KindUserInfo, Content: "我叫小明"},
		{Kind: KindUserPreference, Content: "喜欢喝茶"},
	})
	assert.Contains(t, out, "[用户相关记忆]")
	assert.Contains(t, out, "- [user_info] 我叫小明")
	assert.Contains(t, out, "- [user_preference] 喜欢喝茶")
}

func TestExtractAndSaveTriggers(t *testing.T) {
	m := newManagerFixture(t)

	saved := m.ExtractAndSave("你好！我叫小明。我喜欢喝咖啡。我对围棋感兴趣。今天天气怎么样？")

	require.Len(t, saved, 3)
	kinds := map[string]string{}
	for _, item := range saved {
		kinds[item.Kind] = item.Content
	}
	assert.Contains(t, kinds[KindUserInfo], "我叫小明")
	assert.Contains(t, kinds[KindUserPreference], "喜欢喝咖啡")
	assert.Contains(t, kinds[KindTopicInterest], "围棋")
}

func TestExtractAndSaveRecordsSource(t *testing.T) {
	m := newManagerFixture(t)

	saved := m.ExtractAndSave("我叫小明。我喜欢喝咖啡。")
	require.Len(t, saved, 2)
	for _, item := range saved {
		assert.Equal(t, "我叫小明。我喜欢喝咖啡。", item.Source)
	}

	long := strings.Repeat("我喜欢吃苹果，", 30)
	saved = m.ExtractAndSave(long)
	require.NotEmpty(t, saved)
	assert.Len(t, []rune(saved[0].Source), 100)
}

func TestExtractAndSaveSkipsDuplicates(t *testing.T) {
	m := newManagerFixture(t)

	first := m.ExtractAndSave("我叫小明")
	second := m.ExtractAndSave("我叫小明")

	assert.Len(t, first, 1)
	assert.Empty(t, second)

	count, err := m.store.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestExtractAndSaveNoTriggers(t *testing.T) {
	m := newManagerFixture(t)
	assert.Empty(t, m.ExtractAndSave("今天北京的天气真不错"))
}

func TestAddValidatesKind(t *testing.T) {
	m := newManagerFixture(t)

	item, err := m.Add(KindFact, "长城在中国", 0.6)
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)

	_, err = m.Add("random_kind", "x", 0.5)
	assert.Error(t, err)

	_, err = m.Add(KindFact, "   ", 0.5)
	assert.Error(t, err)
}

func TestGetUserProfile(t *testing.T) {
	m := newManagerFixture(t)

	m.ExtractAndSave("我叫小明。我喜欢喝咖啡。我对围棋感兴趣。")

	profile, err := m.GetUserProfile()
	require.NoError(t, err)
	assert.Len(t, profile.Info, 1)
	assert.Len(t, profile.Preferences, 1)
	assert.Len(t, profile.Interests, 1)
}
