// File: internal/config/config.go
// Package config loads and validates the application configuration. All
// values flow through viper so that the file, environment variables
// (WEBPILOT_ prefix) and CLI flags share one precedence chain.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Provider  ProviderConfig  `mapstructure:"provider" yaml:"provider"`
	Workflows WorkflowsConfig `mapstructure:"workflows" yaml:"workflows"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Data      DataConfig      `mapstructure:"data" yaml:"data"`
}

// LoggerConfig controls the zap logger construction.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the managed Chrome instance.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	WindowWidth       int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight      int           `mapstructure:"window_height" yaml:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	SessionFile       string        `mapstructure:"session_file" yaml:"session_file"`
}

// AgentConfig bounds the perceive-decide-act loop.
type AgentConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	StepDelay         time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	MaxWait           time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	DecodeRetries     int           `mapstructure:"decode_retries" yaml:"decode_retries"`
	ExecFailThreshold int           `mapstructure:"exec_fail_threshold" yaml:"exec_fail_threshold"`
	LoopWindow        int           `mapstructure:"loop_window" yaml:"loop_window"`
}

// ProviderConfig selects and tunes the decision provider.
type ProviderConfig struct {
	// Kind selects the provider implementation: "anthropic" or "ollama".
	Kind      string          `mapstructure:"kind" yaml:"kind"`
	RateLimit float64         `mapstructure:"rate_limit" yaml:"rate_limit"` // requests per second
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Ollama    OllamaConfig    `mapstructure:"ollama" yaml:"ollama"`
}

// AnthropicConfig configures the conversational computer-use provider.
type AnthropicConfig struct {
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	Model     string        `mapstructure:"model" yaml:"model"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// OllamaConfig configures the stateless local-model provider.
type OllamaConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Model   string        `mapstructure:"model" yaml:"model"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// WorkflowsConfig locates the workflow library on disk.
type WorkflowsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// EventsConfig tunes the in-process event bus.
type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size"`
}

// DataConfig holds miscellaneous data paths.
type DataConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "red")
	v.SetDefault("logger.colors.panic", "red")
	v.SetDefault("logger.colors.fatal", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1280)
	v.SetDefault("browser.window_height", 800)
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.post_load_wait", "1s")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.session_file", "session.json")

	// -- Agent --
	v.SetDefault("agent.max_steps", 30)
	v.SetDefault("agent.step_delay", "500ms")
	v.SetDefault("agent.max_wait", "5s")
	v.SetDefault("agent.decode_retries", 3)
	v.SetDefault("agent.exec_fail_threshold", 3)
	v.SetDefault("agent.loop_window", 4)

	// -- Provider --
	v.SetDefault("provider.kind", "anthropic")
	v.SetDefault("provider.rate_limit", 0.5)
	v.SetDefault("provider.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("provider.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("provider.anthropic.max_tokens", 2048)
	v.SetDefault("provider.anthropic.timeout", "120s")
	v.SetDefault("provider.ollama.base_url", "http://localhost:11434")
	v.SetDefault("provider.ollama.model", "qwen2.5vl:7b")
	v.SetDefault("provider.ollama.timeout", "180s")

	// -- Workflows / Events / Data --
	v.SetDefault("workflows.dir", "workflows")
	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("data.dir", "data")
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("provider.anthropic.api_key", "WEBPILOT_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns a Config populated purely from defaults. Intended for
// tests and embedded use where no file or environment is consulted.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.LoopWindow < 2 {
		return fmt.Errorf("agent.loop_window must be at least 2")
	}
	if c.Agent.DecodeRetries <= 0 {
		return fmt.Errorf("agent.decode_retries must be a positive integer")
	}
	if c.Browser.WindowWidth <= 0 || c.Browser.WindowHeight <= 0 {
		return fmt.Errorf("browser window dimensions must be positive")
	}
	switch strings.ToLower(c.Provider.Kind) {
	case "anthropic", "ollama":
	default:
		return fmt.Errorf("provider.kind must be one of: anthropic, ollama (got %q)", c.Provider.Kind)
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be a positive integer")
	}
	return nil
}
