package memory

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

func newStoreFixture(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	return s
}

func TestStoreSaveAssignsIDAndSeq(t *testing.T) {
	s := newStoreFixture(t)

	a := &Item{Kind: KindUserInfo, Content: "我叫小明", Importance: 0.9}
	b := &Item{Kind: KindUserPreference, Content: "喜欢喝茶", Importance: 0.8}
	require.NoError(t, s.Save(a))
	require.NoError(t, s.Save(b))

	assert.True(t, len(a.ID) > 4 && a.ID[:4] == "mem_")
	assert.Greater(t, b.Seq, a.Seq)
}

func TestStoreImportanceClamped(t *testing.T) {
	s := newStoreFixture(t)

	item := &Item{Kind: KindFact, Content: "x", Importance: 3.5}
	require.NoError(t, s.Save(item))
	assert.Equal(t, 1.0, item.Importance)

	item = &Item{Kind: KindFact, Content: "y", Importance: -1}
	require.NoError(t, s.Save(item))
	assert.Equal(t, 0.0, item.Importance)
}

func TestStoreListAllInsertionOrder(t *testing.T) {
	s := newStoreFixture(t)

	for _, content := range []string{"第一条", "第二条", "第三条"} {
		require.NoError(t, s.Save(&Item{Kind: KindFact, Content: content, Importance: 0.5}))
	}

	items, err := s.ListAll()
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "第一条", items[0].Content)
	assert.Equal(t, "第三条", items[2].Content)
}

func TestStoreGetAndDelete(t *testing.T) {
	s := newStoreFixture(t)

	item := &Item{Kind: KindUserInfo, Content: "我叫小红", Importance: 0.9}
	require.NoError(t, s.Save(item))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "我叫小红", got.Content)

	require.NoError(t, s.Delete(item.ID))

	_, err = s.Get(item.ID)
	require.Error(t, err)
	assert.Equal(t, "MEMORY_001", apperrors.GetCode(err))

	err = s.Delete(item.ID)
	require.Error(t, err)
	assert.Equal(t, "MEMORY_001", apperrors.GetCode(err))
}

func TestStoreTouchAccess(t *testing.T) {
	s := newStoreFixture(t)

	item := &Item{Kind: KindFact, Content: "z", Importance: 0.5}
	require.NoError(t, s.Save(item))
	require.NoError(t, s.TouchAccess([]string{item.ID}))
	require.NoError(t, s.TouchAccess(nil))

	got, err := s.Get(item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.AccessCount)
}

func TestStorePruneStale(t *testing.T) {
	s := newStoreFixture(t)

	stale := &Item{Kind: KindInteraction, Content: "old chat", Importance: 0.1}
	require.NoError(t, s.Save(stale))
	keep := &Item{Kind: KindUserInfo, Content: "我叫小明", Importance: 0.9}
	require.NoError(t, s.Save(keep))

	// Backdate the stale item past the cutoff.
	require.NoError(t, s.DB().Model(&Item{}).Where("id = ?", stale.ID).
		UpdateColumn("created_at", time.Now().Add(-90*24*time.Hour)).Error)

	pruned, err := s.PruneStale(time.Now().Add(-30*24*time.Hour), 0.3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
