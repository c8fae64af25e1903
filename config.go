package embedfn

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	defaults "github.com/Paranoid-AF/embedfn/default"
	"github.com/Paranoid-AF/embedfn/ollama"
)

const defaultOllamaPort = "11434"

// Config represents the user's embedfn configuration.
type Config struct {
	Version   int             `toml:"version"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Log       LogConfig       `toml:"log"`
}

// EmbeddingConfig holds settings for the embedding server.
type EmbeddingConfig struct {
	BaseURL        string         `toml:"base_url"`
	APIKey         string         `toml:"api_key"`
	Model          string         `toml:"model"`
	KeepAlive      string         `toml:"keep_alive"`
	Truncate       *bool          `toml:"truncate,omitempty"`
	TimeoutSeconds int            `toml:"timeout_seconds"`
	MaxRetries     int            `toml:"max_retries"`
	ValidateModel  bool           `toml:"validate_model"`
	Options        map[string]any `toml:"options,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// envOverrides is read with the EMBEDFN_ prefix.
type envOverrides struct {
	ConfigDir      string `split_words:"true"`
	OllamaHost     string `split_words:"true"`
	OllamaAPIKey   string `split_words:"true"`
	EmbeddingModel string `split_words:"true"`
	LogLevel       string `split_words:"true"`
}

// ollamaEnv holds the unprefixed variables the Ollama tooling reads.
type ollamaEnv struct {
	Host   string `envconfig:"OLLAMA_HOST"`
	APIKey string `envconfig:"OLLAMA_API_KEY"`
}

func readEnv() envOverrides {
	var env envOverrides
	// All fields are strings, so Process has nothing to fail on.
	_ = envconfig.Process("embedfn", &env)
	return env
}

func readOllamaEnv() ollamaEnv {
	var env ollamaEnv
	_ = envconfig.Process("", &env)
	return env
}

// firstNonEmpty treats empty variables as unset.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ConfigDir returns the config directory path.
// Resolution order: $EMBEDFN_CONFIG_DIR > $XDG_CONFIG_HOME/embedfn > ~/.config/embedfn
func ConfigDir() string {
	if dir := readEnv().ConfigDir; dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "embedfn")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "embedfn-config")
	}
	return filepath.Join(home, ".config", "embedfn")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// DefaultConfig returns the default configuration from the embedded default_config.toml.
func DefaultConfig() *Config {
	var cfg Config
	if err := toml.Unmarshal(defaults.DefaultConfigTOML, &cfg); err != nil {
		panic("embedfn: invalid embedded default_config.toml: " + err.Error())
	}
	return &cfg
}

// LoadConfig loads config from ConfigPath or returns defaults if not found.
func LoadConfig() (*Config, error) {
	return LoadConfigFile(ConfigPath())
}

// LoadConfigFile loads config from path. A missing file yields defaults;
// fields absent from the file are filled from defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, key := range md.Undecoded() {
		slog.Warn("unknown config key", "path", path, "key", key.String())
	}

	// Apply defaults for missing fields
	defaults := DefaultConfig()
	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = defaults.Embedding.BaseURL
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Truncate == nil {
		cfg.Embedding.Truncate = defaults.Embedding.Truncate
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = defaults.Embedding.TimeoutSeconds
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}

	return &cfg, nil
}

// EffectiveConfig returns a copy of cfg with environment overrides applied,
// as NewEmbeddingFunction would see it. A nil cfg means DefaultConfig.
func EffectiveConfig(cfg *Config) *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	eff := *cfg
	eff.Embedding.BaseURL = ResolveBaseURL(cfg)
	eff.Embedding.APIKey = ResolveAPIKey(cfg)
	eff.Embedding.Model = ResolveModel(cfg)
	eff.Log.Level = ResolveLogLevel(cfg)
	return &eff
}

// ValidateConfig checks configuration for potential issues and returns warnings.
func ValidateConfig(cfg *Config) []string {
	var warnings []string
	if cfg == nil {
		return warnings
	}
	e := cfg.Embedding
	if e.TimeoutSeconds < 0 {
		warnings = append(warnings, fmt.Sprintf("timeout_seconds is negative (%d); the default timeout will be used", e.TimeoutSeconds))
	}
	if e.MaxRetries < 0 {
		warnings = append(warnings, fmt.Sprintf("max_retries is negative (%d); requests will not be retried", e.MaxRetries))
	}
	if e.KeepAlive != "" && !validKeepAlive(e.KeepAlive) {
		warnings = append(warnings, fmt.Sprintf("keep_alive %q is neither a duration nor a number of seconds", e.KeepAlive))
	}
	if model := ResolveModel(cfg); model != "" && !strings.Contains(model[strings.LastIndex(model, "/")+1:], ":") {
		warnings = append(warnings, fmt.Sprintf("model %q has no tag; the server will use %s:latest", model, model))
	}
	if _, err := ParseLogLevel(ResolveLogLevel(cfg)); err != nil {
		warnings = append(warnings, err.Error())
	}
	if u, err := url.ParseRequestURI(ResolveBaseURL(cfg)); err != nil || u.Host == "" {
		warnings = append(warnings, fmt.Sprintf("base_url %q is not a valid URL", ResolveBaseURL(cfg)))
	}
	return warnings
}

func validKeepAlive(s string) bool {
	if _, err := strconv.Atoi(s); err == nil {
		return true
	}
	_, err := time.ParseDuration(s)
	return err == nil
}

// ResolveBaseURL returns the embedding server address, normalized.
// Priority: $EMBEDFN_OLLAMA_HOST env > $OLLAMA_HOST env > config value.
func ResolveBaseURL(cfg *Config) string {
	if host := firstNonEmpty(readEnv().OllamaHost, readOllamaEnv().Host); host != "" {
		return NormalizeHost(host)
	}
	if cfg != nil {
		return NormalizeHost(cfg.Embedding.BaseURL)
	}
	return NormalizeHost("")
}

// ResolveAPIKey returns the bearer token for the embedding server.
// Priority: $EMBEDFN_OLLAMA_API_KEY env > $OLLAMA_API_KEY env > config value.
func ResolveAPIKey(cfg *Config) string {
	if key := firstNonEmpty(readEnv().OllamaAPIKey, readOllamaEnv().APIKey); key != "" {
		return key
	}
	if cfg != nil {
		return cfg.Embedding.APIKey
	}
	return ""
}

// ResolveModel returns the embedding model name.
// Priority: $EMBEDFN_EMBEDDING_MODEL env > config value.
func ResolveModel(cfg *Config) string {
	if model := readEnv().EmbeddingModel; model != "" {
		return model
	}
	if cfg != nil {
		return cfg.Embedding.Model
	}
	return ""
}

// ResolveLogLevel returns the log level name.
// Priority: $EMBEDFN_LOG_LEVEL env > config value > "info".
func ResolveLogLevel(cfg *Config) string {
	if level := readEnv().LogLevel; level != "" {
		return level
	}
	if cfg != nil && cfg.Log.Level != "" {
		return cfg.Log.Level
	}
	return "info"
}

// ParseLogLevel maps debug, info, warn or error to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// NormalizeHost turns an OLLAMA_HOST style value ("0.0.0.0", "myhost:8080",
// "https://ollama.example.com/") into a base URL. Plain http hosts without a
// port get the Ollama default port.
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ollama.DefaultBaseURL
	}
	if ip := net.ParseIP(raw); ip != nil && strings.Contains(raw, ":") {
		raw = "[" + raw + "]"
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	if u.Scheme == "http" && u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), defaultOllamaPort)
	}
	return strings.TrimRight(u.String(), "/")
}
