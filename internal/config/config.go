package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	"idxwatch/pkg/contracts/domain"
)

// Config represents the complete application configuration. Values come from
// defaults, then an optional YAML file, then IDXWATCH_* environment
// variables, in that order of increasing precedence.
type Config struct {
	Server     ServerConfig     `yaml:"server" envconfig:"SERVER"`
	Source     SourceConfig     `yaml:"source" envconfig:"SOURCE"`
	Store      StoreConfig      `yaml:"store" envconfig:"STORE"`
	Validation ValidationConfig `yaml:"validation" envconfig:"VALIDATION"`
	Notify     NotifyConfig     `yaml:"notify" envconfig:"NOTIFY"`
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port int `yaml:"port" envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`

	// APIKey protects the inbound API when set. Empty disables auth,
	// which is the expected mode behind a trusted gateway.
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`

	// RateLimitRPS caps request throughput per instance; zero disables
	// limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `yaml:"rate_limit_burst" envconfig:"RATE_LIMIT_BURST" default:"40"`

	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// SourceConfig points at the upstream dataset API the validator reads from.
type SourceConfig struct {
	BaseURL      string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:9000" validate:"url"`
	APIKey       string        `yaml:"api_key" envconfig:"API_KEY"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT" default:"30s"`
}

// StoreConfig configures result persistence and the local mirror cache.
type StoreConfig struct {
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:9001" validate:"url"`
	APIKey         string        `yaml:"api_key" envconfig:"API_KEY"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"15s"`
	CacheCapacity  int           `yaml:"cache_capacity" envconfig:"CACHE_CAPACITY" default:"50" validate:"min=1"`
}

// ValidationConfig tunes rule evaluation and run-all fan-out.
type ValidationConfig struct {
	Concurrency   int     `yaml:"concurrency" envconfig:"CONCURRENCY" default:"4" validate:"min=1"`
	OutlierSigma  float64 `yaml:"outlier_sigma" envconfig:"OUTLIER_SIGMA" default:"3.0" validate:"gt=0"`
	OutlierWindow int     `yaml:"outlier_window" envconfig:"OUTLIER_WINDOW" default:"20" validate:"min=2"`

	// Default lookbacks applied when a run request carries no explicit
	// range. Zero means unbounded.
	DailyLookback     time.Duration `yaml:"daily_lookback" envconfig:"DAILY_LOOKBACK" default:"168h"`
	QuarterlyLookback time.Duration `yaml:"quarterly_lookback" envconfig:"QUARTERLY_LOOKBACK" default:"8760h"`
}

// NotifyConfig controls alerting on completed runs and the daily digest.
// Recipients receive run alerts; SummaryRecipients receive the daily
// summary and default to Recipients when unset.
type NotifyConfig struct {
	Enabled           bool            `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	SeverityThreshold domain.Severity `yaml:"severity_threshold" envconfig:"SEVERITY_THRESHOLD" default:"warning"`
	Timeout           time.Duration   `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
	Recipients        []string        `yaml:"recipients" envconfig:"RECIPIENTS"`
	SummaryRecipients []string        `yaml:"summary_recipients" envconfig:"SUMMARY_RECIPIENTS"`
	SummaryInterval   time.Duration   `yaml:"summary_interval" envconfig:"SUMMARY_INTERVAL" default:"24h"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format     string `yaml:"format" envconfig:"FORMAT" default:"json" validate:"oneof=json text"`
	Output     string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath   string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/idxwatch.log"`
	MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB" default:"100"`
	MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS" default:"3"`
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process("IDXWATCH", cfg); err != nil {
		return nil, fmt.Errorf("processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Source: SourceConfig{
			BaseURL:      "http://localhost:9000",
			FetchTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			BaseURL:        "http://localhost:9001",
			RequestTimeout: 15 * time.Second,
			CacheCapacity:  50,
		},
		Validation: ValidationConfig{
			Concurrency:       4,
			OutlierSigma:      3.0,
			OutlierWindow:     20,
			DailyLookback:     7 * 24 * time.Hour,
			QuarterlyLookback: 365 * 24 * time.Hour,
		},
		Notify: NotifyConfig{
			Enabled:           true,
			SeverityThreshold: domain.SeverityWarning,
			Timeout:           10 * time.Second,
			SummaryInterval:   24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "logs/idxwatch.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

var validate = validator.New()

// Validate rejects configurations the engine cannot run with. Bounds live
// in the struct tags; the severity threshold is a domain type and checked
// by hand.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			ve := verrs[0]
			return fmt.Errorf("%s: fails %q (got %v)", ve.Namespace(), ve.Tag(), ve.Value())
		}
		return err
	}
	if !c.Notify.SeverityThreshold.Valid() {
		return fmt.Errorf("unknown notify severity threshold: %q", c.Notify.SeverityThreshold)
	}
	return nil
}

// DefaultLookback returns the implicit lookback window applied to a table
// kind when the caller supplies no explicit range. Zero means unbounded.
func (c *Config) DefaultLookback(kind domain.TableKind) time.Duration {
	switch kind {
	case domain.TableDailyPrices:
		return c.Validation.DailyLookback
	case domain.TableFinancialsQuarterly:
		return c.Validation.QuarterlyLookback
	default:
		return 0
	}
}
