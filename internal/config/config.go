package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/relay.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// RelayConfig describes runtime options for the relay daemon.
type RelayConfig struct {
	Environment string
	ListenAddr  string

	// Logging
	LogFile  string
	LogLevel string

	// Connection manager
	HeartbeatInterval  time.Duration
	HeartbeatMissLimit int

	// Upstream providers
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	AnthropicVersion string
	OllamaBaseURL    string
	LoopbackEnabled  bool
	RequestTimeout   time.Duration

	// Provider catalog file (YAML), optional
	ProviderCatalogFile string

	// Turn store
	TurnStoreDriver string // sqlite|postgres
	TurnStorePath   string // sqlite file path
	TurnStoreDSN    string // postgres DSN
}

// LoadRelayConfig reads the current environment and loads the appropriate
// relay config file. Environment variables win over file values.
func LoadRelayConfig(root string) (RelayConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return RelayConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return RelayConfig{}, err
	}
	values := make(map[string]string, len(s.Defaults)+len(envValues))
	for k, v := range s.Defaults {
		values[k] = v
	}
	for k, v := range envValues {
		values[k] = v
	}

	cfg := RelayConfig{
		Environment:         s.Environment,
		ListenAddr:          firstNonEmpty(os.Getenv("RELAY_LISTEN_ADDR"), values["listen_addr"], ":8080"),
		LogFile:             firstNonEmpty(os.Getenv("RELAY_LOG_FILE"), values["log_file"]),
		LogLevel:            firstNonEmpty(os.Getenv("RELAY_LOG_LEVEL"), values["log_level"], "info"),
		HeartbeatInterval:   parseOptionalDuration(values["heartbeat_interval"], 15*time.Second),
		HeartbeatMissLimit:  parseOptionalInt(values["heartbeat_miss_limit"], 3),
		OpenAIAPIKey:        firstNonEmpty(os.Getenv("OPENAI_API_KEY"), values["openai_api_key"]),
		OpenAIBaseURL:       firstNonEmpty(os.Getenv("OPENAI_BASE_URL"), values["openai_base_url"]),
		AnthropicAPIKey:     firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), values["anthropic_api_key"]),
		AnthropicBaseURL:    firstNonEmpty(os.Getenv("ANTHROPIC_BASE_URL"), values["anthropic_base_url"]),
		AnthropicVersion:    values["anthropic_version"],
		OllamaBaseURL:       firstNonEmpty(os.Getenv("OLLAMA_HOST"), values["ollama_base_url"]),
		LoopbackEnabled:     parseOptionalBool(values["loopback_enabled"], false),
		RequestTimeout:      parseOptionalDuration(values["request_timeout"], 0),
		ProviderCatalogFile: values["provider_catalog_file"],
		TurnStoreDriver:     firstNonEmpty(values["turn_store_driver"], "sqlite"),
		TurnStorePath:       firstNonEmpty(values["turn_store_path"], DefaultTurnStorePath()),
		TurnStoreDSN:        firstNonEmpty(os.Getenv("RELAY_TURN_STORE_DSN"), values["turn_store_dsn"]),
	}
	return cfg, nil
}

// DefaultTurnStorePath places the SQLite store under the user home directory.
func DefaultTurnStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data/turns.db"
	}
	return filepath.Join(home, ".chatstream", "turns.db")
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseOptionalBool(v string, fallback bool) bool {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return parseBool(v)
}

func parseOptionalInt(v string, fallback int) int {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func parseOptionalDuration(v string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
		return parsed
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
