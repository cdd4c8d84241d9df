package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nuwa-labs/nuwa/internal/config"
	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

func managerFixture() *Manager {
	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultProvider: "openai",
			Providers: map[string]config.Provider{
				"openai":    {APIKey: "key-a", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
				"anthropic": {APIKey: "key-b", Model: "claude-3-5-sonnet-20241022"},
				"zhipu":     {Model: "glm-4"}, // no API key
			},
		},
	}
	return NewManager(cfg, zap.NewNop())
}

func TestManagerClientCache(t *testing.T) {
	m := managerFixture()

	first, err := m.Client("openai")
	require.NoError(t, err)
	second, err := m.Client("openai")
	require.NoError(t, err)

	assert.Same(t, first.(*OpenAIClient), second.(*OpenAIClient))
}

func TestManagerDefaultProvider(t *testing.T) {
	m := managerFixture()

	client, err := m.Client("")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, client)
}

func TestManagerAnthropicVariant(t *testing.T) {
	m := managerFixture()

	client, err := m.Client("anthropic")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)
}

func TestManagerUnknownProvider(t *testing.T) {
	m := managerFixture()

	_, err := m.Client("gemini")
	require.Error(t, err)
	assert.Equal(t, "LLM_001", apperrors.GetCode(err))
}

func TestManagerMissingAPIKey(t *testing.T) {
	m := managerFixture()

	_, err := m.Client("zhipu")
	require.Error(t, err)
	assert.Equal(t, "LLM_001", apperrors.GetCode(err))
}
