// Package config loads the ohbridge configuration file (JSON5, or YAML for
// .yaml paths) and exposes the LLM catalog the engine resolves model names
// against.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server     ServerConfig         `json:"server" yaml:"server"`
	Engine     EngineConfig         `json:"engine" yaml:"engine"`
	Transcript TranscriptConfig     `json:"transcript" yaml:"transcript"`
	TUI        TUIConfig            `json:"tui" yaml:"tui"`
	LLMs       map[string]LLMConfig `json:"llms" yaml:"llms"`
}

// ServerConfig configures the HTTP/WebSocket front-end.
type ServerConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	Token          string `json:"token,omitempty" yaml:"token,omitempty"` // optional bearer token (empty = no auth)
	MaxSessions    int    `json:"max_sessions" yaml:"max_sessions"`
	RateLimitRPM   int    `json:"rate_limit_rpm" yaml:"rate_limit_rpm"` // 0 = disabled
	RateLimitBurst int    `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

// EngineConfig holds the timing knobs of the engine handle.
type EngineConfig struct {
	Agent           string `json:"agent" yaml:"agent"`
	StepIntervalMs  int    `json:"step_interval_ms" yaml:"step_interval_ms"`
	StopGraceMs     int    `json:"stop_grace_ms" yaml:"stop_grace_ms"`
	SubmitTimeoutMs int    `json:"submit_timeout_ms" yaml:"submit_timeout_ms"`
	MaxIterations   int    `json:"max_iterations" yaml:"max_iterations"`
}

// TranscriptConfig configures transcript persistence.
// An empty Storage keeps the transcript in memory only.
type TranscriptConfig struct {
	Storage string `json:"storage,omitempty" yaml:"storage,omitempty"`
}

// TUIConfig configures the terminal front-end.
type TUIConfig struct {
	Welcome string `json:"welcome" yaml:"welcome"`
}

// LLMConfig describes one named model entry.
type LLMConfig struct {
	Model          string  `json:"model" yaml:"model"`
	BaseURL        string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKey         string  `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Temperature    float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	TimeoutSeconds int     `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

const (
	DefaultStepInterval  = 100 * time.Millisecond
	DefaultStopGrace     = 5 * time.Second
	DefaultSubmitTimeout = 30 * time.Second
)

// Default returns a config with every field at its default value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			MaxSessions:    16,
			RateLimitBurst: 10,
		},
		Engine: EngineConfig{
			Agent:           "CodeActAgent",
			StepIntervalMs:  int(DefaultStepInterval / time.Millisecond),
			StopGraceMs:     int(DefaultStopGrace / time.Millisecond),
			SubmitTimeoutMs: int(DefaultSubmitTimeout / time.Millisecond),
			MaxIterations:   100,
		},
		TUI: TUIConfig{
			Welcome: "Welcome to ohbridge!",
		},
		LLMs: map[string]LLMConfig{},
	}
}

// Load reads the config file at path. A missing file yields the defaults;
// environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()
	return cfg, nil
}

// unmarshal decodes YAML for .yaml/.yml paths and JSON5 otherwise.
func unmarshal(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json5.Unmarshal(data, cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Save writes cfg to path, as YAML or indented JSON depending on the
// extension. The file is created with 0600 since it may hold API keys.
func Save(path string, cfg *Config) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("OHBRIDGE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("OHBRIDGE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("OHBRIDGE_TOKEN"); v != "" {
		c.Server.Token = v
	}
	// OPENAI_API_KEY fills entries that did not set a key of their own.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		for name, llm := range c.LLMs {
			if llm.APIKey == "" {
				llm.APIKey = key
				c.LLMs[name] = llm
			}
		}
	}
}

func (c *Config) normalize() {
	d := Default()
	if c.Server.Port <= 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.MaxSessions <= 0 {
		c.Server.MaxSessions = d.Server.MaxSessions
	}
	if c.Engine.StepIntervalMs <= 0 {
		c.Engine.StepIntervalMs = d.Engine.StepIntervalMs
	}
	if c.Engine.StopGraceMs <= 0 {
		c.Engine.StopGraceMs = d.Engine.StopGraceMs
	}
	if c.Engine.SubmitTimeoutMs <= 0 {
		c.Engine.SubmitTimeoutMs = d.Engine.SubmitTimeoutMs
	}
	if c.LLMs == nil {
		c.LLMs = map[string]LLMConfig{}
	}
	c.Transcript.Storage = ExpandHome(c.Transcript.Storage)
}

// Addr returns the host:port the server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StepInterval is the yield between two agent loop steps.
func (e EngineConfig) StepInterval() time.Duration {
	return time.Duration(e.StepIntervalMs) * time.Millisecond
}

// StopGrace bounds how long Stop waits for the agent loop to exit.
func (e EngineConfig) StopGrace() time.Duration {
	return time.Duration(e.StopGraceMs) * time.Millisecond
}

// SubmitTimeout bounds one user input submission.
func (e EngineConfig) SubmitTimeout() time.Duration {
	return time.Duration(e.SubmitTimeoutMs) * time.Millisecond
}

// Timeout returns the per-request LLM timeout (default 60s).
func (l LLMConfig) Timeout() time.Duration {
	if l.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
