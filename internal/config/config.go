package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/nuwa-labs/nuwa/internal/errors"
)

// Config holds all configuration for nuwa
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Agent   AgentConfig   `mapstructure:"agent"`
	Storage StorageConfig `mapstructure:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LLMConfig holds language model settings
type LLMConfig struct {
	DefaultProvider string              `mapstructure:"default_provider"`
	Providers       map[string]Provider `mapstructure:"providers"`
}

// Provider holds individual LLM provider configuration
type Provider struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Timeout     int     `mapstructure:"timeout"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	RPM         int     `mapstructure:"rpm"` // requests per minute, 0 = unlimited
}

// AgentConfig holds conversation loop settings
type AgentConfig struct {
	SystemPrompt     string `mapstructure:"system_prompt"`
	HistoryLimit     int    `mapstructure:"history_limit"`
	EnableMemory     bool   `mapstructure:"enable_memory"`
	EnableTools      bool   `mapstructure:"enable_tools"`
	EnableMultimodal bool   `mapstructure:"enable_multimodal"`
	DocsPath         string `mapstructure:"docs_path"`
}

// StorageConfig holds database settings
type StorageConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
	BadgerPath string `mapstructure:"badger_path"`
}

// MetricsConfig holds metrics exposure settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load loads configuration from file, env, and defaults
func Load(configPath, dataDir string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// .env files feed the environment before viper and the provider
	// overrides read it.
	if err := LoadEnvFiles(); err != nil {
		return nil, apperrors.Wrap(err, "CONFIG_002", "failed to load .env file")
	}

	if dataDir == "" {
		dataDir = getDefaultDataDir()
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	v.Set("storage.data_dir", dataDir)
	v.Set("storage.sqlite_path", filepath.Join(dataDir, "nuwa.db"))
	v.Set("storage.badger_path", filepath.Join(dataDir, "badger"))

	if configPath == "" {
		configPath = filepath.Join(dataDir, "nuwa.yaml")
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(err, "CONFIG_002", "failed to read config file "+configPath)
		}
	}

	// Environment variables (NUWA_AGENT_HISTORY_LIMIT, NUWA_LLM_DEFAULT_PROVIDER, etc.)
	v.SetEnvPrefix("NUWA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(err, "CONFIG_002", "failed to unmarshal config")
	}

	// Viper does not merge env vars into nested maps, patch providers explicitly
	loadEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

const defaultSystemPrompt = `你是女娲，一个智能助手，能够帮助用户解答问题、完成任务。

你的特点：
1. 友好、专业、有帮助
2. 可以使用工具来获取信息或执行操作
3. 会记住用户的偏好和相关信息
4. 回答简洁明了，重点突出
5. 支持多模态：能够理解图片内容，并能生成图片

当你需要查找信息时，请使用搜索工具。
当用户分享个人信息时，请记住这些信息以便后续使用。
当用户需要视觉素材时，使用图片工具。`

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.default_provider", "openai")
	v.SetDefault("llm.providers.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.providers.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.providers.openai.timeout", 60)
	v.SetDefault("llm.providers.openai.max_tokens", 4096)
	v.SetDefault("llm.providers.openai.temperature", 0.7)

	v.SetDefault("agent.system_prompt", defaultSystemPrompt)
	v.SetDefault("agent.history_limit", 10)
	v.SetDefault("agent.enable_memory", true)
	v.SetDefault("agent.enable_tools", true)
	v.SetDefault("agent.enable_multimodal", true)
	v.SetDefault("agent.docs_path", "./data/docs")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9464")
}

func getDefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "nuwa")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}

	return filepath.Join(home, ".local", "share", "nuwa")
}

// providerEnvDefaults maps the closed provider set to its conventional env
// vars and OpenAI-compatible endpoints.
var providerEnvDefaults = map[string]struct {
	keyVar   string
	modelVar string
	model    string
	baseURL  string
}{
	"openai":    {"OPENAI_API_KEY", "OPENAI_MODEL", "gpt-4o-mini", "https://api.openai.com/v1"},
	"deepseek":  {"DEEPSEEK_API_KEY", "DEEPSEEK_MODEL", "deepseek-chat", "https://api.deepseek.com"},
	"qwen":      {"QWEN_API_KEY", "QWEN_MODEL", "qwen-turbo", "https://dashscope.aliyuncs.com/compatible-mode/v1"},
	"zhipu":     {"ZHIPU_API_KEY", "ZHIPU_MODEL", "glm-4", "https://open.bigmodel.cn/api/paas/v4"},
	"anthropic": {"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022", ""},
}

// loadEnvOverrides patches provider credentials from the environment.
func loadEnvOverrides(cfg *Config) {
	getEnv := func(key, fallback string) string {
		if val := os.Getenv(key); val != "" {
			return val
		}
		return fallback
	}

	cfg.LLM.DefaultProvider = getEnv("NUWA_LLM_DEFAULT_PROVIDER", cfg.LLM.DefaultProvider)

	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]Provider)
	}

	for name, defaults := range providerEnvDefaults {
		apiKey := ResolveEnvWithAliases("NUWA_LLM_PROVIDERS_" + strings.ToUpper(name) + "_API_KEY")
		if apiKey == "" {
			apiKey = os.Getenv(defaults.keyVar)
		}
		if apiKey == "" {
			continue
		}

		p := cfg.LLM.Providers[name]
		p.APIKey = apiKey
		if p.Model == "" {
			p.Model = getEnv(defaults.modelVar, defaults.model)
		}
		if p.BaseURL == "" {
			p.BaseURL = defaults.baseURL
		}
		if p.Timeout == 0 {
			p.Timeout = 60
		}
		if p.MaxTokens == 0 {
			p.MaxTokens = 4096
		}
		cfg.LLM.Providers[name] = p
	}

	cfg.Storage.DataDir = getEnv("NUWA_STORAGE_DATA_DIR", cfg.Storage.DataDir)
	cfg.Agent.DocsPath = getEnv("NUWA_AGENT_DOCS_PATH", cfg.Agent.DocsPath)

	if limit := os.Getenv("NUWA_AGENT_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			cfg.Agent.HistoryLimit = n
		}
	}
}

func validate(cfg *Config) error {
	if cfg.LLM.DefaultProvider == "" {
		return apperrors.New("CONFIG_002", "llm.default_provider is required")
	}

	if cfg.Agent.HistoryLimit <= 0 {
		cfg.Agent.HistoryLimit = 10
	}

	return nil
}

// GetProvider returns the provider configuration by name
func (c *Config) GetProvider(name string) (Provider, bool) {
	p, ok := c.LLM.Providers[name]
	return p, ok
}

// DefaultProvider returns the default provider configuration
func (c *Config) DefaultProvider() (Provider, error) {
	p, ok := c.LLM.Providers[c.LLM.DefaultProvider]
	if !ok {
		return Provider{}, fmt.Errorf("default provider %s not found", c.LLM.DefaultProvider)
	}
	return p, nil
}

// AvailableProviders lists configured provider names (those with credentials).
func (c *Config) AvailableProviders() []string {
	names := make([]string, 0, len(c.LLM.Providers))
	for name, p := range c.LLM.Providers {
		if p.APIKey != "" {
			names = append(names, name)
		}
	}
	return names
}
