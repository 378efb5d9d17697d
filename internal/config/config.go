package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
	BackendGrok   = "grok"
)

// Default models per backend, used when no model is configured.
var defaultModels = map[string]string{
	BackendGemini: "gemini-2.5-flash",
	BackendOpenAI: "gpt-4o-mini",
	BackendGrok:   "grok-3",
}

const (
	DefaultWelcomeMessage = "Hello! I'm Zentro AI. How can I assist you today?"

	DefaultSystemInstruction = `You are Zentro AI, a helpful, intelligent, and friendly AI assistant.
Your goal is to provide accurate, concise, and useful information.
Format your responses using Markdown for clarity.`
)

// Environment variables holding credentials. Keys are only ever read from
// the environment.
const (
	EnvGeminiKey       = "GEMINI_API_KEY"
	EnvGeminiKeyLegacy = "API_KEY"
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvGrokKey         = "GROK_API_KEY"
)

// Config holds application configuration
type Config struct {
	Backend           string `toml:"backend" yaml:"backend" json:"backend"`
	Model             string `toml:"model" yaml:"model" json:"model"`
	BaseURL           string `toml:"base_url" yaml:"base_url" json:"base_url"` // Overrides the backend endpoint (proxies, tests)
	SystemInstruction string `toml:"system_instruction" yaml:"system_instruction" json:"system_instruction"`
	WelcomeMessage    string `toml:"welcome_message" yaml:"welcome_message" json:"welcome_message"`
	Debug             bool   `toml:"debug" yaml:"debug" json:"debug"`

	LogDir    string `toml:"log_dir" yaml:"log_dir" json:"log_dir"`
	DBPath    string `toml:"db_path" yaml:"db_path" json:"db_path"` // Turn log database; empty disables it
	Telemetry bool   `toml:"telemetry" yaml:"telemetry" json:"telemetry"`

	Web WebConfig `toml:"web" yaml:"web" json:"web"`

	// Credentials, populated by ApplyEnvOverrides only.
	GeminiAPIKey string `toml:"-" yaml:"-" json:"-"`
	OpenAIAPIKey string `toml:"-" yaml:"-" json:"-"`
	GrokAPIKey   string `toml:"-" yaml:"-" json:"-"`
}

// WebConfig configures the browser view.
type WebConfig struct {
	Addr string `toml:"addr" yaml:"addr" json:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:           BackendGemini,
		SystemInstruction: DefaultSystemInstruction,
		WelcomeMessage:    DefaultWelcomeMessage,
		LogDir:            "logs",
		DBPath:            "zentro.db",
		Telemetry:         true,
		Web: WebConfig{
			Addr: ":8080",
		},
	}
}

// DefaultPath is ~/.zentro/config.toml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".zentro", "config.toml"), nil
}

// Load reads path when given, otherwise the default path if it exists, and
// falls back to Default. Environment overrides are applied last.
func Load(path string) (Config, error) {
	if path == "" {
		if p, err := DefaultPath(); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				path = p
			}
		}
	}

	if path == "" {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		cfg.SetDefaults()
		if err := cfg.Validate(); err != nil {
			return Config{}, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath decodes a TOML, YAML or JSON file (chosen by extension) on top
// of the defaults, then applies environment overrides and validates.
func LoadFromPath(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode YAML config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode JSON config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to decode TOML config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills values that depend on other settings.
func (c *Config) SetDefaults() {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = defaultModels[c.Backend]
	}
}

// Override applies command-line selections on top of a loaded config. A
// backend switch without an explicit model resets the model to that
// backend's default.
func (c *Config) Override(backend, model string) error {
	if backend != "" && backend != c.Backend {
		c.Backend = backend
		if model == "" {
			c.Model = ""
		}
	}
	if model != "" {
		c.Model = model
	}
	c.SetDefaults()
	return c.Validate()
}

// ApplyEnvOverrides applies environment variable overrides:
//   - ZENTRO_BACKEND, ZENTRO_MODEL, ZENTRO_BASE_URL
//   - ZENTRO_LOG_DIR, ZENTRO_DB_PATH, ZENTRO_DEBUG
//   - GEMINI_API_KEY (API_KEY as fallback), OPENAI_API_KEY, GROK_API_KEY
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("ZENTRO_BACKEND"); v != "" {
		c.Backend = v
	}
	if v := os.Getenv("ZENTRO_MODEL"); v != "" {
		c.Model = v
	}
	if v := os.Getenv("ZENTRO_BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv("ZENTRO_LOG_DIR"); v != "" {
		c.LogDir = v
	}
	if v, ok := os.LookupEnv("ZENTRO_DB_PATH"); ok {
		c.DBPath = v
	}
	if v := os.Getenv("ZENTRO_DEBUG"); v != "" {
		c.Debug = v == "1" || strings.EqualFold(v, "true")
	}

	c.GeminiAPIKey = os.Getenv(EnvGeminiKey)
	if c.GeminiAPIKey == "" {
		c.GeminiAPIKey = os.Getenv(EnvGeminiKeyLegacy)
	}
	c.OpenAIAPIKey = os.Getenv(EnvOpenAIKey)
	c.GrokAPIKey = os.Getenv(EnvGrokKey)
}

// Validate checks the configuration. A missing API key is not a validation
// error: it surfaces as a configuration error on the first send.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendGemini, BackendOpenAI, BackendGrok:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (gemini|openai|grok)", c.Backend))
	}
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if strings.TrimSpace(c.WelcomeMessage) == "" {
		errs = append(errs, errors.New("welcome_message must not be empty"))
	}
	if c.LogDir == "" {
		errs = append(errs, errors.New("log_dir must not be empty"))
	}

	return errors.Join(errs...)
}

// APIKey returns the credential for the selected backend and the
// environment variable it is read from.
func (c *Config) APIKey() (key, envVar string) {
	switch c.Backend {
	case BackendOpenAI:
		return c.OpenAIAPIKey, EnvOpenAIKey
	case BackendGrok:
		return c.GrokAPIKey, EnvGrokKey
	default:
		return c.GeminiAPIKey, EnvGeminiKey
	}
}
