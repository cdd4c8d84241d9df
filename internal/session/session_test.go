package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
	"github.com/nuwa-labs/nuwa/internal/llm"
)

func newSessionFixture(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions"), 0, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionSaveAndLoad(t *testing.T) {
	s := newSessionFixture(t)

	messages := []llm.Message{
		llm.TextMessage(llm.RoleSystem, "你是女娲"),
		llm.TextMessage(llm.RoleUser, "你好"),
		{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "calculator", Arguments: `{"expression":"1+1"}`}},
		},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: "计算结果: 1+1 = 2"},
	}

	require.NoError(t, s.Save("default", messages))

	loaded, err := s.Load("default")
	require.NoError(t, err)
	require.Len(t, loaded, 4)
	assert.Equal(t, "你好", loaded[1].Content)
	require.Len(t, loaded[2].ToolCalls, 1)
	assert.Equal(t, "call_1", loaded[3].ToolCallID)
}

func TestSessionLoadMissing(t *testing.T) {
	s := newSessionFixture(t)

	_, err := s.Load("nope")
	require.Error(t, err)
	assert.Equal(t, "SESSION_001", apperrors.GetCode(err))
}

func TestSessionListAndDelete(t *testing.T) {
	s := newSessionFixture(t)

	require.NoError(t, s.Save("a", nil))
	require.NoError(t, s.Save("b", nil))

	ids, err := s.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a")) // idempotent

	ids, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}

func TestSessionOverwrite(t *testing.T) {
	s := newSessionFixture(t)

	require.NoError(t, s.Save("x", []llm.Message{llm.TextMessage(llm.RoleUser, "旧")}))
	require.NoError(t, s.Save("x", []llm.Message{llm.TextMessage(llm.RoleUser, "新")}))

	loaded, err := s.Load("x")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "新", loaded[0].Content)
}
