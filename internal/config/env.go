package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

func LoadEnvFiles() error {
	envPaths := []string{
		"./.env",
	}

	if home, err := os.UserHomeDir(); err == nil {
		envPaths = append(envPaths,
			filepath.Join(home, ".nuwa", ".env"),
			filepath.Join(home, ".config", "nuwa", ".env"),
		)
	}

	for _, path := range envPaths {
		if _, err := os.Stat(path); err == nil {
			if err := loadEnvFile(path); err != nil {
				return err
			}
		}
	}

	return nil
}

func loadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
			value = strings.Trim(value, `"`)
		} else if strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
			value = strings.Trim(value, `'`)
		}

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	return scanner.Err()
}

func GetEnvDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

var envAliases = map[string][]string{
	"NUWA_LLM_PROVIDERS_OPENAI_API_KEY":    {"OPENAI_API_KEY"},
	"NUWA_LLM_PROVIDERS_ANTHROPIC_API_KEY": {"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
	"NUWA_LLM_PROVIDERS_DEEPSEEK_API_KEY":  {"DEEPSEEK_API_KEY"},
	"NUWA_LLM_PROVIDERS_QWEN_API_KEY":      {"QWEN_API_KEY", "DASHSCOPE_API_KEY"},
	"NUWA_LLM_PROVIDERS_ZHIPU_API_KEY":     {"ZHIPU_API_KEY", "GLM_API_KEY"},
}

func ResolveEnvWithAliases(canonicalKey string) string {
	if val := os.Getenv(canonicalKey); val != "" {
		return val
	}

	if aliases, ok := envAliases[canonicalKey]; ok {
		for _, alias := range aliases {
			if val := os.Getenv(alias); val != "" {
				return val
			}
		}
	}

	return ""
}
