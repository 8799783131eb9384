// Package config handles agent forum configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir"`

	// Server
	Server ServerConfig `json:"server"`

	// Services
	LLM      LLMConfig      `json:"llm"`
	Research ResearchConfig `json:"research"`

	// Periodic ticks
	Runner RunnerConfig `json:"runner"`

	DebugMode bool `json:"debug_mode"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`

	// AdminTokenHash is the bcrypt hash of the admin bearer token
	AdminTokenHash string `json:"admin_token_hash,omitempty"`
}

// LLMConfig lists the chat providers, tried in Order
type LLMConfig struct {
	Anthropic      AnthropicConfig `json:"anthropic"`
	OpenAI         OpenAIConfig    `json:"openai"`
	Ollama         OllamaConfig    `json:"ollama"`
	Order          []string        `json:"order"`
	EnableFallback bool            `json:"enable_fallback"`
	DefaultTimeout Duration        `json:"default_timeout"`
}

// AnthropicConfig for the Claude API
type AnthropicConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// OpenAIConfig for any OpenAI-compatible endpoint
type OpenAIConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// OllamaConfig for local LLM
type OllamaConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Model   string `json:"model"`
}

// ResearchConfig for web research
type ResearchConfig struct {
	Enabled         bool     `json:"enabled"`
	BraveAPIKey     string   `json:"brave_api_key,omitempty"`
	FeedURLTemplate string   `json:"feed_url_template"`
	MaxResults      int      `json:"max_results"`
	FetchArticles   bool     `json:"fetch_articles"`
	ArticleTimeout  Duration `json:"article_timeout"`
}

// RunnerConfig for the periodic tick scheduler
type RunnerConfig struct {
	Enabled     bool     `json:"enabled"`
	Interval    Duration `json:"interval"`
	Jitter      Duration `json:"jitter"`
	TickTimeout Duration `json:"tick_timeout"`
}

// Duration is a time.Duration written as "15m" in JSON
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "90s" style strings or a number of seconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".agentforum"),
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		LLM: LLMConfig{
			Anthropic: AnthropicConfig{
				BaseURL: "https://api.anthropic.com",
				Model:   "claude-sonnet-4-20250514",
			},
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Ollama: OllamaConfig{
				URL:   "http://localhost:11434",
				Model: "llama3.2",
			},
			Order:          []string{"anthropic", "openai", "ollama"},
			EnableFallback: true,
			DefaultTimeout: Duration(60 * time.Second),
		},
		Research: ResearchConfig{
			Enabled:         true,
			FeedURLTemplate: "https://news.google.com/rss/search?q=%s&hl=fr&gl=FR&ceid=FR:fr",
			MaxResults:      3,
			FetchArticles:   true,
			ArticleTimeout:  Duration(5 * time.Second),
		},
		Runner: RunnerConfig{
			Enabled:     true,
			Interval:    Duration(15 * time.Minute),
			Jitter:      Duration(time.Minute),
			TickTimeout: Duration(3 * time.Minute),
		},
	}
}

// LoadEnv loads .env.local then .env from dir into the process environment.
// Variables already set win. Missing files are ignored.
func LoadEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load loads config from file, falling back to defaults, then applies
// environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		dir := cfg.DataDir
		if v := os.Getenv("AGENTFORUM_DATA_DIR"); v != "" {
			dir = v
		}
		path = filepath.Join(dir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides secrets and deployment settings from the environment
func (c *Config) applyEnv() {
	setString := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v := os.Getenv(key); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.DataDir, "AGENTFORUM_DATA_DIR")
	setString(&c.Server.Host, "AGENTFORUM_HOST")
	setString(&c.Server.AdminTokenHash, "AGENTFORUM_ADMIN_TOKEN_HASH")
	setString(&c.LLM.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.LLM.Anthropic.Model, "ANTHROPIC_MODEL")
	setString(&c.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.LLM.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.LLM.Ollama.URL, "OLLAMA_URL")
	setString(&c.Research.BraveAPIKey, "BRAVE_API_KEY", "BRAVE_SEARCH_API_KEY")

	if v := os.Getenv("AGENTFORUM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("AGENTFORUM_LLM_ORDER"); v != "" {
		var order []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				order = append(order, strings.ToLower(p))
			}
		}
		c.LLM.Order = order
	}
	if v := os.Getenv("AGENTFORUM_RUNNER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Runner.Interval = Duration(d)
		}
	}
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save API keys to file
	safeCfg := *c
	safeCfg.LLM.Anthropic.APIKey = ""
	safeCfg.LLM.OpenAI.APIKey = ""
	safeCfg.Research.BraveAPIKey = ""

	data, err := json.MarshalIndent(safeCfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// DatabasePath returns the SQLite file inside the data dir
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "agentforum.db")
}
