// Package config handles Hearth configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./hearth.yaml, ~/.config/hearth/config.yaml, /etc/hearth/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"hearth.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hearth", "config.yaml"))
	}

	paths = append(paths, "/etc/hearth/config.yaml")
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

// Config holds all Hearth configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Model         ModelConfig         `yaml:"model"`
	Agent         AgentConfig         `yaml:"agent"`
	Prompt        PromptConfig        `yaml:"prompt"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	ArchivePath   string              `yaml:"archive_path"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// ModelConfig defines the chat-completion vendor settings.
type ModelConfig struct {
	APIKey       string  `yaml:"api_key"`
	BaseURL      string  `yaml:"base_url"` // Default: vendor production endpoint
	Name         string  `yaml:"name"`
	VisionName   string  `yaml:"vision_name"`   // Model used for camera analysis
	SearchEngine string  `yaml:"search_engine"` // Vendor web-search engine ID
	TimeoutSec   int     `yaml:"timeout_sec"`   // Valid range [10,120], default 30
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	TopP         float64 `yaml:"top_p"`
}

// AgentConfig tunes the conversation orchestrator.
type AgentConfig struct {
	// MaxHistory is the number of non-system messages retained per
	// conversation. Older entries are evicted oldest-first.
	MaxHistory int `yaml:"max_history"`
	// MaxToolIterations bounds model calls per turn. Hard-capped at 5
	// regardless of this setting.
	MaxToolIterations int `yaml:"max_tool_iterations"`
	// CooldownSec is the minimum spacing between turns on the same
	// conversation entity.
	CooldownSec int `yaml:"cooldown_sec"`
}

// PromptConfig shapes the system prompt rendered each turn.
type PromptConfig struct {
	HomeName string `yaml:"home_name"`
	UserName string `yaml:"user_name"`
	// ExposedDomains limits which entity domains appear in the prompt's
	// device list. Empty means the built-in controllable set.
	ExposedDomains []string `yaml:"exposed_domains"`
	// MaxEntities caps the device list length. The prompt competes with
	// conversation history for the model's context window.
	MaxEntities int `yaml:"max_entities"`
}

// MQTTConfig defines the optional statestream mirror.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"` // Default: homeassistant/statestream
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables so tokens can live outside the file.
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8087},
		Model: ModelConfig{
			Name:         "glm-4",
			VisionName:   "glm-4v",
			SearchEngine: "search_std",
			TimeoutSec:   30,
			MaxTokens:    1024,
		},
		Agent: AgentConfig{
			MaxHistory:        20,
			MaxToolIterations: 3,
			CooldownSec:       3,
		},
		Prompt: PromptConfig{
			ExposedDomains: []string{
				"light", "switch", "fan", "cover", "lock", "climate",
				"media_player", "camera", "timer",
			},
			MaxEntities: 40,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "homeassistant/statestream",
		},
	}
}

// Validate checks constraints the rest of the program relies on.
func (c *Config) Validate() error {
	if c.Model.TimeoutSec < 10 || c.Model.TimeoutSec > 120 {
		return fmt.Errorf("model.timeout_sec %d out of range [10,120]", c.Model.TimeoutSec)
	}
	if c.Agent.MaxHistory < 1 {
		return fmt.Errorf("agent.max_history must be at least 1")
	}
	if c.Agent.MaxToolIterations < 1 {
		return fmt.Errorf("agent.max_tool_iterations must be at least 1")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q not recognized (expected text or json)", c.LogFormat)
	}
	return nil
}
