package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProviderCatalogEntry describes one provider for UI consumption: display
// name and the models offered through the relay.
type ProviderCatalogEntry struct {
	Name         string   `yaml:"name"`
	DisplayName  string   `yaml:"display_name"`
	DefaultModel string   `yaml:"default_model"`
	Models       []string `yaml:"models"`
}

type providerCatalogFile struct {
	Providers []ProviderCatalogEntry `yaml:"providers"`
}

// LoadProviderCatalog reads the YAML provider catalog. A missing path returns
// the built-in defaults rather than an error.
func LoadProviderCatalog(path string) ([]ProviderCatalogEntry, error) {
	if path == "" {
		return DefaultProviderCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProviderCatalog(), nil
		}
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	var file providerCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	if len(file.Providers) == 0 {
		return DefaultProviderCatalog(), nil
	}
	return file.Providers, nil
}

// DefaultProviderCatalog is used when no catalog file is configured.
func DefaultProviderCatalog() []ProviderCatalogEntry {
	return []ProviderCatalogEntry{
		{
			Name:         "openai",
			DisplayName:  "OpenAI",
			DefaultModel: "gpt-4o",
			Models:       []string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo"},
		},
		{
			Name:         "anthropic",
			DisplayName:  "Anthropic",
			DefaultModel: "claude-3-5-sonnet-20241022",
			Models:       []string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022", "claude-3-opus-20240229"},
		},
		{
			Name:         "ollama",
			DisplayName:  "Ollama (local)",
			DefaultModel: "llama3.1",
			Models:       []string{"llama3.1", "mistral", "qwen2.5"},
		},
		{
			Name:         "loopback",
			DisplayName:  "Loopback (echo)",
			DefaultModel: "echo",
			Models:       []string{"echo"},
		},
	}
}
