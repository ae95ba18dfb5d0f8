package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/chatlog/transcript/slots"
)

type Config struct {
	Store string   `yaml:"store"`
	Path  string   `yaml:"path"`
	Slots []string `yaml:"slots"`

	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	Persona       string        `yaml:"persona"`
	Window        int           `yaml:"window"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	RatePerMinute float64       `yaml:"rate_per_minute"`

	Play     bool   `yaml:"play"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
	Metrics  bool   `yaml:"metrics"`

	OpenAIKey string `yaml:"-"`
	GeminiKey string `yaml:"-"`
}

func (c Config) Validate() error {
	switch c.Store {
	case slots.BackendMemory:
	case slots.BackendDir, slots.BackendSQLite, slots.BackendPebble:
		if c.Path == "" {
			return fmt.Errorf("missing --path for store %q", c.Store)
		}
	default:
		return fmt.Errorf("unknown --store %q (want memory, dir, sqlite or pebble)", c.Store)
	}
	switch c.Provider {
	case providerOpenAI, providerGenAI:
	default:
		return fmt.Errorf("unknown --provider %q (want openai or genai)", c.Provider)
	}
	if c.Model == "" {
		return errors.New("missing --model")
	}
	if c.Window < 0 {
		return errors.New("window must be >= 0")
	}
	if c.MaxRetries < 0 {
		return errors.New("max-retries must be >= 0")
	}
	if c.BaseDelay <= 0 {
		return errors.New("base-delay must be > 0")
	}
	if c.RatePerMinute < 0 {
		return errors.New("rate-per-minute must be >= 0")
	}
	if c.AMQPURL != "" && c.Exchange == "" {
		return errors.New("missing --exchange for --amqp-url")
	}
	return nil
}

const (
	providerOpenAI = "openai"
	providerGenAI  = "genai"
)

func defaultConfig() Config {
	return Config{
		Store:      slots.BackendDir,
		Path:       filepath.FromSlash(".transcript/slots"),
		Provider:   providerOpenAI,
		Model:      "gpt-5-mini",
		Window:     60,
		MaxRetries: 2,
		BaseDelay:  2 * time.Second,
		Exchange:   "transcript.events",
		LogLevel:   "info",
	}
}

// loadConfigFile overlays the YAML file at path onto cfg. A missing path is not an error.
func loadConfigFile(cfg Config, path string) (Config, error) {
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("loadConfigFile: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("loadConfigFile: %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv fills secrets and endpoints from the environment.
func applyEnv(cfg Config, getenv func(string) string) Config {
	if v := getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAIKey = v
	}
	if v := getenv("GEMINI_API_KEY"); v != "" {
		cfg.GeminiKey = v
	}
	if v := getenv("TRANSCRIPT_AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	return cfg
}

// applyFlags copies the flags the user actually set from flags onto cfg.
func applyFlags(cfg, flags Config, changed func(string) bool) Config {
	if changed("store") {
		cfg.Store = flags.Store
	}
	if changed("path") {
		cfg.Path = flags.Path
	}
	if changed("slot") {
		cfg.Slots = flags.Slots
	}
	if changed("provider") {
		cfg.Provider = flags.Provider
	}
	if changed("model") {
		cfg.Model = flags.Model
	}
	if changed("persona") {
		cfg.Persona = flags.Persona
	}
	if changed("window") {
		cfg.Window = flags.Window
	}
	if changed("max-retries") {
		cfg.MaxRetries = flags.MaxRetries
	}
	if changed("base-delay") {
		cfg.BaseDelay = flags.BaseDelay
	}
	if changed("rate-per-minute") {
		cfg.RatePerMinute = flags.RatePerMinute
	}
	if changed("play") {
		cfg.Play = flags.Play
	}
	if changed("amqp-url") {
		cfg.AMQPURL = flags.AMQPURL
	}
	if changed("exchange") {
		cfg.Exchange = flags.Exchange
	}
	if changed("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if changed("log-json") {
		cfg.LogJSON = flags.LogJSON
	}
	if changed("metrics") {
		cfg.Metrics = flags.Metrics
	}
	if changed("api-key") {
		cfg.OpenAIKey = flags.OpenAIKey
		cfg.GeminiKey = flags.OpenAIKey
	}
	return cfg
}

// resolveConfig layers defaults, the YAML file, the environment and explicit flags, in that order.
func resolveConfig(path string, flags Config, changed func(string) bool, getenv func(string) string) (Config, error) {
	cfg, err := loadConfigFile(defaultConfig(), path)
	if err != nil {
		return Config{}, err
	}
	cfg = applyEnv(cfg, getenv)
	cfg = applyFlags(cfg, flags, changed)
	if cfg.Path != "" {
		cfg.Path = filepath.Clean(cfg.Path)
	}
	return cfg, nil
}
