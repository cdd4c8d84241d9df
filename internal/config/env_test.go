package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	content := `
# comment line
NUWA_TEST_PLAIN=value1
NUWA_TEST_QUOTED="value 2"
NUWA_TEST_SINGLE='value3'
MALFORMED_LINE
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	t.Cleanup(func() {
		os.Unsetenv("NUWA_TEST_PLAIN")
		os.Unsetenv("NUWA_TEST_QUOTED")
		os.Unsetenv("NUWA_TEST_SINGLE")
	})

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if got := os.Getenv("NUWA_TEST_PLAIN"); got != "value1" {
		t.Errorf("expected value1, got %q", got)
	}
	if got := os.Getenv("NUWA_TEST_QUOTED"); got != "value 2" {
		t.Errorf("expected quoted value stripped, got %q", got)
	}
	if got := os.Getenv("NUWA_TEST_SINGLE"); got != "value3" {
		t.Errorf("expected single-quoted value stripped, got %q", got)
	}
}

func TestLoadEnvFileDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")

	os.Setenv("NUWA_TEST_EXISTING", "original")
	t.Cleanup(func() { os.Unsetenv("NUWA_TEST_EXISTING") })

	if err := os.WriteFile(path, []byte("NUWA_TEST_EXISTING=overridden\n"), 0644); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	if err := loadEnvFile(path); err != nil {
		t.Fatalf("loadEnvFile failed: %v", err)
	}

	if got := os.Getenv("NUWA_TEST_EXISTING"); got != "original" {
		t.Errorf("expected existing value preserved, got %q", got)
	}
}

func TestResolveEnvWithAliases(t *testing.T) {
	os.Setenv("DEEPSEEK_API_KEY", "sk-alias")
	t.Cleanup(func() { os.Unsetenv("DEEPSEEK_API_KEY") })

	got := ResolveEnvWithAliases("NUWA_LLM_PROVIDERS_DEEPSEEK_API_KEY")
	if got != "sk-alias" {
		t.Errorf("expected alias value, got %q", got)
	}
}

func TestResolveEnvCanonicalWins(t *testing.T) {
	os.Setenv("NUWA_LLM_PROVIDERS_OPENAI_API_KEY", "sk-canonical")
	os.Setenv("OPENAI_API_KEY", "sk-alias")
	t.Cleanup(func() {
		os.Unsetenv("NUWA_LLM_PROVIDERS_OPENAI_API_KEY")
		os.Unsetenv("OPENAI_API_KEY")
	})

	got := ResolveEnvWithAliases("NUWA_LLM_PROVIDERS_OPENAI_API_KEY")
	if got != "sk-canonical" {
		t.Errorf("expected canonical value, got %q", got)
	}
}

func TestGetEnvDefault(t *testing.T) {
	if got := GetEnvDefault("NUWA_TEST_MISSING_KEY", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}

	os.Setenv("NUWA_TEST_SET_KEY", "set")
	t.Cleanup(func() { os.Unsetenv("NUWA_TEST_SET_KEY") })

	if got := GetEnvDefault("NUWA_TEST_SET_KEY", "fallback"); got != "set" {
		t.Errorf("expected set value, got %q", got)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load("", dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("expected default provider openai, got %s", cfg.LLM.DefaultProvider)
	}
	if cfg.Agent.HistoryLimit != 10 {
		t.Errorf("expected history limit 10, got %d", cfg.Agent.HistoryLimit)
	}
	if !cfg.Agent.EnableMemory {
		t.Error("expected memory enabled by default")
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("expected data dir %s, got %s", dir, cfg.Storage.DataDir)
	}
	if cfg.Agent.SystemPrompt == "" {
		t.Error("expected a default system prompt")
	}
	if !strings.Contains(cfg.Agent.SystemPrompt, "女娲") {
		t.Errorf("expected persona in default system prompt, got %q", cfg.Agent.SystemPrompt)
	}
}

func TestProviderEnvOverride(t *testing.T) {
	dir := t.TempDir()

	os.Setenv("DEEPSEEK_API_KEY", "sk-test")
	t.Cleanup(func() { os.Unsetenv("DEEPSEEK_API_KEY") })

	cfg, err := Load("", dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	p, ok := cfg.GetProvider("deepseek")
	if !ok {
		t.Fatal("expected deepseek provider from env")
	}
	if p.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", p.APIKey)
	}
	if p.BaseURL != "https://api.deepseek.com" {
		t.Errorf("unexpected base url %q", p.BaseURL)
	}
	if p.Model != "deepseek-chat" {
		t.Errorf("unexpected model %q", p.Model)
	}
}
