// Package config handles taskmind configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./taskmind.yaml, ~/.config/taskmind/config.yaml, /etc/taskmind/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"taskmind.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskmind", "config.yaml"))
	}

	paths = append(paths, "/etc/taskmind/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all taskmind configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Auth          AuthConfig          `yaml:"auth"`
	Models        ModelsConfig        `yaml:"models"`
	OpenAI        OpenAIConfig        `yaml:"openai"`
	Anthropic     AnthropicConfig     `yaml:"anthropic"`
	Agent         AgentConfig         `yaml:"agent"`
	Conversations ConversationsConfig `yaml:"conversations"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AuthConfig defines bearer-token settings.
type AuthConfig struct {
	// Secret signs and verifies access tokens. Required for serving.
	Secret string `yaml:"secret"`
	// Issuer is embedded in minted tokens and checked on verification
	// when non-empty.
	Issuer string `yaml:"issuer"`
	// TokenTTLSec is the lifetime of minted tokens in seconds (default 86400).
	TokenTTLSec int `yaml:"token_ttl_sec"`
}

// ModelsConfig defines model selection and provider routing.
type ModelsConfig struct {
	// Default is the model used for every chat turn.
	Default string `yaml:"default"`
	// Providers maps a model name to a provider name ("openai" or
	// "anthropic"). Unlisted models fall back to the openai-compatible
	// provider.
	Providers map[string]string `yaml:"providers"`
	// RequestTimeoutSec bounds a single model call. Zero uses the
	// provider client default.
	RequestTimeoutSec int `yaml:"request_timeout_sec"`
}

// OpenAIConfig defines the OpenAI-compatible provider settings.
// Works with OpenAI, OpenRouter, and any compatible gateway.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // default https://openrouter.ai/api/v1
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// AgentConfig tunes the orchestration loop.
type AgentConfig struct {
	// MaxIterations caps model round-trips per turn (default 8).
	MaxIterations int `yaml:"max_iterations"`
	// HistoryLimit bounds the conversation window fed to the model
	// (default 20 messages).
	HistoryLimit int `yaml:"history_limit"`
}

// ConversationsConfig tunes the conversation REST surface.
type ConversationsConfig struct {
	// FetchLimit bounds message reads for API consumers (default 50).
	// Intentionally independent from agent.history_limit: one bounds
	// prompt size, the other bounds an API page.
	FetchLimit int `yaml:"fetch_limit"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Auth:   AuthConfig{TokenTTLSec: 86400},
		Models: ModelsConfig{
			Default: "meta-llama/llama-3.3-70b-instruct",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Agent: AgentConfig{
			MaxIterations: 8,
			HistoryLimit:  20,
		},
		Conversations: ConversationsConfig{FetchLimit: 50},
		DataDir:       ".",
	}
}
