package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "LICENSED"

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Licensing LicensingConfig `yaml:"licensing" envconfig:"LICENSING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// ActivationLimit caps activation attempts per client IP.
	ActivationLimit ClientLimitConfig `yaml:"activation_limit" envconfig:"ACTIVATION_LIMIT"`
	// WebhookSecret, when set, must match the "secret" query parameter of
	// every storefront notification.
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// RateLimitConfig contains global rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// ClientLimitConfig limits requests per client over a sliding window
type ClientLimitConfig struct {
	Enabled  bool          `yaml:"enabled" envconfig:"ENABLED"`
	Requests int           `yaml:"requests" envconfig:"REQUESTS"`
	Window   time.Duration `yaml:"window" envconfig:"WINDOW"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// StoreConfig selects and tunes the license store backend
type StoreConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER"`
	DatabaseURL     string        `yaml:"database_url" envconfig:"DATABASE_URL"`
	RedisURL        string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	RedisKeyPrefix  string        `yaml:"redis_key_prefix" envconfig:"REDIS_KEY_PREFIX"`
	MaxConns        int           `yaml:"max_conns" envconfig:"MAX_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" envconfig:"AUTO_MIGRATE"`
	Retry           RetryConfig   `yaml:"retry" envconfig:"RETRY"`
}

// RetryConfig bounds retries of transient store failures
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" envconfig:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" envconfig:"MAX_INTERVAL"`
}

// LicensingConfig tunes classification, activation and entitlement
type LicensingConfig struct {
	BaselineCapacity       int        `yaml:"baseline_capacity" envconfig:"BASELINE_CAPACITY"`
	ActivationMaxAttempts  int        `yaml:"activation_max_attempts" envconfig:"ACTIVATION_MAX_ATTEMPTS"`
	FreezeTierOnActivation bool       `yaml:"freeze_tier_on_activation" envconfig:"FREEZE_TIER_ON_ACTIVATION"`
	PriceBands             PriceBands `yaml:"price_bands" envconfig:"PRICE_BANDS"`
}

// PriceBand maps an inclusive price range to a tier slug
type PriceBand struct {
	Tier     string  `yaml:"tier"`
	Min      float64 `yaml:"min"`
	Max      float64 `yaml:"max"`
	Currency string  `yaml:"currency"`
}

// PriceBands is a list of bands. From the environment it is written as
// "premium:1.80-1.99:USD;standard:0.80-0.99:USD".
type PriceBands []PriceBand

// Decode implements envconfig.Decoder
func (p *PriceBands) Decode(value string) error {
	var bands PriceBands
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return fmt.Errorf("price band %q: want tier:min-max[:currency]", entry)
		}
		bounds := strings.SplitN(parts[1], "-", 2)
		if len(bounds) != 2 {
			return fmt.Errorf("price band %q: want min-max range", entry)
		}
		lo, err := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
		if err != nil {
			return fmt.Errorf("price band %q: %w", entry, err)
		}
		hi, err := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
		if err != nil {
			return fmt.Errorf("price band %q: %w", entry, err)
		}
		band := PriceBand{Tier: strings.TrimSpace(parts[0]), Min: lo, Max: hi}
		if len(parts) == 3 {
			band.Currency = strings.ToUpper(strings.TrimSpace(parts[2]))
		}
		bands = append(bands, band)
	}
	*p = bands
	return nil
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// WebSocketConfig contains event feed configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" envconfig:"ENABLED"`
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in that order of precedence.
func Load() (*Config, error) {
	return LoadFrom(getConfigFilePath())
}

// LoadFrom is Load with an explicit config file. An empty path skips the file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified when CORS is enabled")
	}

	if c.Security.RateLimit.Enabled && (c.Security.RateLimit.RPS <= 0 || c.Security.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit rps and burst must be positive")
	}

	if c.Security.ActivationLimit.Enabled && (c.Security.ActivationLimit.Requests <= 0 || c.Security.ActivationLimit.Window <= 0) {
		return fmt.Errorf("activation limit requests and window must be positive")
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store driver %q requires a database url", c.Store.Driver)
		}
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store driver %q requires a redis url", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Store.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("store retry max attempts must be positive")
	}
	if c.Store.Retry.InitialInterval <= 0 || c.Store.Retry.MaxInterval < c.Store.Retry.InitialInterval {
		return fmt.Errorf("store retry intervals must be positive and max >= initial")
	}

	if c.Licensing.BaselineCapacity <= 0 {
		return fmt.Errorf("baseline capacity must be positive")
	}
	if c.Licensing.ActivationMaxAttempts <= 0 {
		return fmt.Errorf("activation max attempts must be positive")
	}
	for _, band := range c.Licensing.PriceBands {
		if band.Min < 0 || band.Max < band.Min {
			return fmt.Errorf("invalid price band for %s: %.2f-%.2f", band.Tier, band.Min, band.Max)
		}
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry sample ratio must be within [0,1]")
	}

	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
			ActivationLimit: ClientLimitConfig{
				Enabled:  true,
				Requests: 10,
				Window:   time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/licensed.log",
		},
		Store: StoreConfig{
			Driver:          DriverMemory,
			RedisKeyPrefix:  "licensed",
			MaxConns:        10,
			ConnMaxLifetime: 30 * time.Minute,
			Retry: RetryConfig{
				MaxAttempts:     3,
				InitialInterval: 50 * time.Millisecond,
				MaxInterval:     time.Second,
			},
		},
		Licensing: LicensingConfig{
			BaselineCapacity:      1,
			ActivationMaxAttempts: 3,
			PriceBands: PriceBands{
				{Tier: "premium", Min: 1.80, Max: 1.99, Currency: "USD"},
				{Tier: "standard", Min: 0.80, Max: 0.99, Currency: "USD"},
			},
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      54 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
