// Package credentials resolves provider secrets from the environment with
// config-file fallback. Absent and malformed secrets are treated identically:
// the caller fails fast with a credentials error and never retries.
package credentials

import (
	"os"
	"strings"
)

// Store answers get_credentials(provider) -> token | absent.
type Store interface {
	Get(provider string) (string, bool)
}

// envKeys maps provider identifiers to their environment variable names,
// checked in order before the config-file values.
var envKeys = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"ollama":    {"OLLAMA_HOST", "OLLAMA_BASE_URL"},
}

// ConfigStore resolves credentials from environment variables first, then
// from values carried in the loaded config file.
type ConfigStore struct {
	fromConfig map[string]string
}

// NewConfigStore creates a ConfigStore over the config-file secrets.
func NewConfigStore(fromConfig map[string]string) *ConfigStore {
	if fromConfig == nil {
		fromConfig = make(map[string]string)
	}
	return &ConfigStore{fromConfig: fromConfig}
}

// Get returns the secret for a provider, or false when absent. Whitespace-only
// values count as absent.
func (s *ConfigStore) Get(provider string) (string, bool) {
	for _, key := range envKeys[provider] {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val, true
		}
	}
	if val := strings.TrimSpace(s.fromConfig[provider]); val != "" {
		return val, true
	}
	return "", false
}
