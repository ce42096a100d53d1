// Package config loads and validates the mcpchat configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Transport kinds for MCP server entries.
const (
	TransportStdio = "stdio" // local subprocess speaking MCP over stdin/stdout
	TransportHTTP  = "http"  // remote endpoint speaking streamable HTTP
)

// Config is the top-level mcpchat configuration.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	LLM      LLMConfig      `yaml:"llm"`
	Servers  []ServerConfig `yaml:"servers"`
	Storage  *StorageConfig `yaml:"storage"`
}

// LLMConfig holds model parameters and the loop bounds.
type LLMConfig struct {
	BaseURL            string  `yaml:"base_url"`
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	MaxIterations      int     `yaml:"max_iterations"`
	ToolTimeoutSeconds int     `yaml:"tool_timeout_seconds"` // 0 disables the per-tool-call timeout
}

// ServerConfig describes one MCP server to connect to. Transport selects which
// group of fields applies: stdio uses Command/Args/Dir, http uses
// URL/Headers/timeouts. Immutable after load.
type ServerConfig struct {
	Name      string `yaml:"name"`
	Transport string `yaml:"transport"`

	// stdio transport
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Dir     string   `yaml:"dir"`

	// http transport
	URL                   string            `yaml:"url"`
	Headers               map[string]string `yaml:"headers"`
	ConnectTimeoutSeconds int               `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int               `yaml:"read_timeout_seconds"`

	Disabled bool `yaml:"disabled"`
}

// StorageConfig enables the SQLite conversation store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Load reads a YAML file and returns a validated Config with defaults applied.
// Environment variables referenced as ${VAR} or $VAR are expanded before
// parsing so secrets (API tokens in headers) can live in the environment.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided configuration, not user input
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.2"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.MaxIterations == 0 {
		c.LLM.MaxIterations = 20
	}
	if c.LLM.ToolTimeoutSeconds == 0 {
		c.LLM.ToolTimeoutSeconds = 60
	}

	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Transport == "" {
			s.Transport = TransportStdio
		}
		if s.ConnectTimeoutSeconds == 0 {
			s.ConnectTimeoutSeconds = 30
		}
		if s.ReadTimeoutSeconds == 0 {
			s.ReadTimeoutSeconds = 60
		}
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server is required")
	}

	names := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("config: server name is required")
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("config: duplicate server name %q", s.Name)
		}
		names[s.Name] = struct{}{}

		switch s.Transport {
		case TransportStdio:
			if s.Command == "" {
				return fmt.Errorf("config: server %q: command is required for stdio transport", s.Name)
			}
		case TransportHTTP:
			if s.URL == "" {
				return fmt.Errorf("config: server %q: url is required for http transport", s.Name)
			}
		default:
			return fmt.Errorf("config: server %q: unknown transport %q", s.Name, s.Transport)
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("config: llm temperature must be between 0 and 2")
	}
	if c.LLM.TimeoutSeconds < 1 {
		return fmt.Errorf("config: llm timeout_seconds must be >= 1")
	}
	if c.LLM.MaxIterations < 1 {
		return fmt.Errorf("config: llm max_iterations must be >= 1")
	}
	if c.LLM.ToolTimeoutSeconds < 0 {
		return fmt.Errorf("config: llm tool_timeout_seconds must be >= 0")
	}

	if c.Storage != nil && c.Storage.Path == "" {
		return fmt.Errorf("config: storage path is required when storage is configured")
	}

	return nil
}

// Enabled returns the servers that are not disabled, in declaration order.
func (c Config) Enabled() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
