// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Memory   MemoryConfig   `mapstructure:"memory" yaml:"memory"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Network  NetworkConfig  `mapstructure:"network" yaml:"network"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Resolver ResolverConfig `mapstructure:"resolver" yaml:"resolver"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Pattern memory backends.
const (
	BackendInMemory = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// MemoryConfig selects and tunes the pattern memory backend.
type MemoryConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Redis   RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Cleanup CleanupConfig `mapstructure:"cleanup" yaml:"cleanup"`
	// AsyncQueueSize bounds the reinforcement queue. Zero persists inline.
	AsyncQueueSize int `mapstructure:"async_queue_size" yaml:"async_queue_size"`
}

// RedisConfig holds the connection details for the Redis pattern store.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"-"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// CleanupConfig holds the defaults for pattern cleanup.
type CleanupConfig struct {
	MinSuccessCount int `mapstructure:"min_success_count" yaml:"min_success_count"`
	MaxAgeDays      int `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Concurrency     int            `mapstructure:"concurrency" yaml:"concurrency"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
}

// NetworkConfig tunes page loading behavior.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// AgentConfig holds settings related to the oracle backends.
type AgentConfig struct {
	LLM LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	TopP        float32       `mapstructure:"top_p" yaml:"top_p"`
	TopK        int           `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ResolverConfig tunes the locator resolution tiers.
type ResolverConfig struct {
	// DiscoveryVisionThreshold is the minimum confidence accepted from any tier
	// during discovery.
	DiscoveryVisionThreshold int `mapstructure:"discovery_vision_threshold" yaml:"discovery_vision_threshold"`
	// RuntimeVisionThreshold is the minimum vision confidence during runtime
	// healing. Kept separate from the discovery threshold.
	RuntimeVisionThreshold int           `mapstructure:"runtime_vision_threshold" yaml:"runtime_vision_threshold"`
	HeuristicAccept        int           `mapstructure:"heuristic_accept" yaml:"heuristic_accept"`
	VisibilityTimeout      time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`
	SettleDelay            time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	OracleTimeout          time.Duration `mapstructure:"oracle_timeout" yaml:"oracle_timeout"`
	// StepTimeout bounds one discovery step end to end, oracle calls included.
	StepTimeout         time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	OracleRateLimit     float64       `mapstructure:"oracle_rate_limit" yaml:"oracle_rate_limit"`
	OracleBurst         int           `mapstructure:"oracle_burst" yaml:"oracle_burst"`
	MaxTextLength       int           `mapstructure:"max_text_length" yaml:"max_text_length"`
	MaxSnapshotElements int           `mapstructure:"max_snapshot_elements" yaml:"max_snapshot_elements"`
	LexiconFile         string        `mapstructure:"lexicon_file" yaml:"lexicon_file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "locus")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Memory --
	v.SetDefault("memory.backend", BackendInMemory)
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.db", 0)
	v.SetDefault("memory.redis.key_prefix", "locus")
	v.SetDefault("memory.cleanup.min_success_count", 2)
	v.SetDefault("memory.cleanup.max_age_days", 30)
	v.SetDefault("memory.async_queue_size", 64)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 2)
	v.SetDefault("browser.viewport", map[string]int{"width": 1366, "height": 768})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.action_timeout", "15s")
	v.SetDefault("network.post_load_wait", "500ms")

	// -- Agent --
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")

	// -- Resolver --
	v.SetDefault("resolver.discovery_vision_threshold", 30)
	v.SetDefault("resolver.runtime_vision_threshold", 50)
	v.SetDefault("resolver.heuristic_accept", 100)
	v.SetDefault("resolver.visibility_timeout", "2s")
	v.SetDefault("resolver.settle_delay", "1s")
	v.SetDefault("resolver.oracle_timeout", "30s")
	v.SetDefault("resolver.step_timeout", "2m")
	v.SetDefault("resolver.oracle_rate_limit", 2.0)
	v.SetDefault("resolver.oracle_burst", 1)
	v.SetDefault("resolver.max_text_length", 100)
	v.SetDefault("resolver.max_snapshot_elements", 200)

	// -- Metrics --
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets come from the environment, never the config file.
	_ = v.BindEnv("database.url", "LOCUS_DATABASE_URL")
	_ = v.BindEnv("memory.redis.password", "LOCUS_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Model API keys fall back to the conventional Gemini variable.
	for name, m := range cfg.Agent.LLM.Models {
		if m.APIKey == "" {
			m.APIKey = os.Getenv("GEMINI_API_KEY")
			cfg.Agent.LLM.Models[name] = m
		}
	}

	if cfg.Logger.LogFile != "" {
		expanded, err := homedir.Expand(cfg.Logger.LogFile)
		if err != nil {
			return nil, fmt.Errorf("could not expand log file path: %w", err)
		}
		cfg.Logger.LogFile = expanded
	}
	if cfg.Resolver.LexiconFile != "" {
		expanded, err := homedir.Expand(cfg.Resolver.LexiconFile)
		if err != nil {
			return nil, fmt.Errorf("could not expand lexicon file path: %w", err)
		}
		cfg.Resolver.LexiconFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	switch c.Memory.Backend {
	case BackendInMemory, BackendRedis:
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required when memory.backend is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("memory.backend must be one of %q, %q or %q, got %q",
			BackendInMemory, BackendPostgres, BackendRedis, c.Memory.Backend)
	}
	if c.Memory.AsyncQueueSize < 0 {
		return fmt.Errorf("memory.async_queue_size must not be negative")
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the resolver thresholds and limits.
func (r *ResolverConfig) Validate() error {
	for name, v := range map[string]int{
		"discovery_vision_threshold": r.DiscoveryVisionThreshold,
		"runtime_vision_threshold":   r.RuntimeVisionThreshold,
		"heuristic_accept":           r.HeuristicAccept,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if r.OracleTimeout <= 0 {
		return fmt.Errorf("oracle_timeout must be a positive duration")
	}
	if r.VisibilityTimeout <= 0 {
		return fmt.Errorf("visibility_timeout must be a positive duration")
	}
	if r.StepTimeout <= 0 {
		return fmt.Errorf("step_timeout must be a positive duration")
	}
	if r.MaxTextLength <= 0 {
		return fmt.Errorf("max_text_length must be a positive integer")
	}
	if r.OracleRateLimit < 0 {
		return fmt.Errorf("oracle_rate_limit must not be negative")
	}
	return nil
}
