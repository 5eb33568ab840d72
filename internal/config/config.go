// Package config handles configuration management with validation
package config

import (
	"exec_optimizer/pkg/retry"
	"exec_optimizer/pkg/telemetry"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Fees      FeesConfig      `yaml:"fees"`
	Execution ExecutionConfig `yaml:"execution"`
	Server    ServerConfig    `yaml:"server"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// OptimizerConfig selects the exchange fee schedule and strategy
type OptimizerConfig struct {
	Exchange           string       `yaml:"exchange"`
	Strategy           string       `yaml:"strategy"`
	Volume30d          float64      `yaml:"volume_30d"`
	HasDiscount        bool         `yaml:"has_discount"`
	MaxExecutionTimeMs int64        `yaml:"max_execution_time_ms"`
	Params             ParamsConfig `yaml:"params"`
}

// ParamsConfig overrides planner tuning. Omitted keys keep the defaults;
// an explicit zero is honored.
type ParamsConfig struct {
	SizeReference       *float64 `yaml:"size_reference,omitempty"`
	VolatilityReference *float64 `yaml:"volatility_reference,omitempty"`
	MarketThreshold     *float64 `yaml:"market_threshold,omitempty"`
	MakerThreshold      *float64 `yaml:"maker_threshold,omitempty"`
	SplitLimitRatio     *float64 `yaml:"split_limit_ratio,omitempty"`
	SplitDelayCapMs     *int64   `yaml:"split_delay_cap_ms,omitempty"`
	IcebergMinAmount    *float64 `yaml:"iceberg_min_amount,omitempty"`
	IcebergChunk        *float64 `yaml:"iceberg_chunk,omitempty"`
	IcebergMinSteps     *int     `yaml:"iceberg_min_steps,omitempty"`
	IcebergMaxSteps     *int     `yaml:"iceberg_max_steps,omitempty"`
	IcebergWindowMs     *int64   `yaml:"iceberg_window_ms,omitempty"`
	VWAPMinAmount       *float64 `yaml:"vwap_min_amount,omitempty"`
	VWAPChunk           *float64 `yaml:"vwap_chunk,omitempty"`
	VWAPMinSteps        *int     `yaml:"vwap_min_steps,omitempty"`
	VWAPMaxSteps        *int     `yaml:"vwap_max_steps,omitempty"`
	VWAPWindowMs        *int64   `yaml:"vwap_window_ms,omitempty"`
	PriceDecimals       *int     `yaml:"price_decimals,omitempty"` // negative disables price rounding
	SizeDecimals        *int     `yaml:"size_decimals,omitempty"`
}

// FeesConfig chooses where fee tier tables are loaded from
type FeesConfig struct {
	Source          string        `yaml:"source"` // builtin, yaml, sqlite or remote
	Path            string        `yaml:"path"`   // yaml file or sqlite database
	URL             string        `yaml:"url"`
	Endpoint        string        `yaml:"endpoint"`
	APIKey          Secret        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables refreshing
}

// ExecutionConfig tunes the plan runner
type ExecutionConfig struct {
	Enabled          bool              `yaml:"enabled"`
	MaxWorkers       int               `yaml:"max_workers"`
	QueueSize        int               `yaml:"queue_size"`
	RateLimit        float64           `yaml:"rate_limit"`
	RateBurst        int               `yaml:"rate_burst"`
	PollInterval     time.Duration     `yaml:"poll_interval"`
	CancelTimeout    time.Duration     `yaml:"cancel_timeout"`
	QuantityDecimals int               `yaml:"quantity_decimals"`
	Retry            retry.RetryPolicy `yaml:"retry"`
}

// ServerConfig contains the HTTP API and plan feed settings
type ServerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	ListenAddr       string        `yaml:"listen_addr"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`
	MaxConnections   int           `yaml:"max_connections"`
	ConnRateLimit    float64       `yaml:"conn_rate_limit"`
	ConnRateBurst    int           `yaml:"conn_rate_burst"`
	Production       bool          `yaml:"production"`
	MaxRequestBodyKB int64         `yaml:"max_request_body_kb"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel    string `yaml:"log_level"`
	ServiceName string `yaml:"service_name"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int    `yaml:"metrics_port"`
	EnableMetrics bool   `yaml:"enable_metrics"`
	EnableTracing bool   `yaml:"enable_tracing"`
	TraceExporter string `yaml:"trace_exporter"` // stdout or none
	LogExporter   string `yaml:"log_exporter"`   // stdout or none
	PrettyPrint   bool   `yaml:"pretty_print"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion. Keys missing from the file keep their DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate collects every field problem into one error
func (c *Config) Validate() error {
	var errors []string

	for _, check := range []func() []error{
		c.validateOptimizerConfig,
		c.validateFeesConfig,
		c.validateExecutionConfig,
		c.validateServerConfig,
		c.validateSystemConfig,
		c.validateTelemetryConfig,
	} {
		for _, err := range check() {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

var validStrategies = []string{"AGGRESSIVE_MARKET", "PATIENT_MAKER", "HYBRID", "SIZE_AWARE"}

func (c *Config) validateOptimizerConfig() []error {
	var errs []error
	o := c.Optimizer

	if strings.TrimSpace(o.Exchange) == "" {
		errs = append(errs, ValidationError{Field: "optimizer.exchange", Message: "exchange is required"})
	}

	strategy := strings.NewReplacer("-", "_", " ", "_").Replace(strings.ToUpper(strings.TrimSpace(o.Strategy)))
	if !contains(validStrategies, strategy) {
		errs = append(errs, ValidationError{
			Field:   "optimizer.strategy",
			Value:   o.Strategy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validStrategies, ", ")),
		})
	}

	if o.Volume30d < 0 {
		errs = append(errs, ValidationError{Field: "optimizer.volume_30d", Value: o.Volume30d, Message: "must not be negative"})
	}
	if o.MaxExecutionTimeMs < 0 {
		errs = append(errs, ValidationError{Field: "optimizer.max_execution_time_ms", Value: o.MaxExecutionTimeMs, Message: "must be positive"})
	}

	p := o.Params
	for _, th := range []*float64{p.MarketThreshold, p.MakerThreshold} {
		if th != nil && (*th < 0 || *th > 1) {
			errs = append(errs, ValidationError{Field: "optimizer.params", Value: *th, Message: "thresholds must be within [0, 1]"})
		}
	}
	if r := p.SplitLimitRatio; r != nil && (*r <= 0 || *r >= 1) {
		errs = append(errs, ValidationError{Field: "optimizer.params.split_limit_ratio", Value: *r, Message: "must be within (0, 1)"})
	}
	if d := p.SizeDecimals; d != nil && *d < 0 {
		errs = append(errs, ValidationError{Field: "optimizer.params.size_decimals", Value: *d, Message: "must not be negative"})
	}

	return errs
}

func (c *Config) validateFeesConfig() []error {
	f := c.Fees
	if f.RefreshInterval < 0 {
		return []error{ValidationError{Field: "fees.refresh_interval", Value: f.RefreshInterval, Message: "must not be negative"}}
	}
	switch f.Source {
	case "", "builtin":
		return nil
	case "yaml", "sqlite":
		if f.Path == "" {
			return []error{ValidationError{Field: "fees.path", Message: fmt.Sprintf("path is required for the %s source", f.Source)}}
		}
	case "remote":
		if f.URL == "" {
			return []error{ValidationError{Field: "fees.url", Message: "url is required for the remote source"}}
		}
	default:
		return []error{ValidationError{Field: "fees.source", Value: f.Source, Message: "must be one of: builtin, yaml, sqlite, remote"}}
	}
	return nil
}

func (c *Config) validateExecutionConfig() []error {
	var errs []error
	e := c.Execution
	if e.MaxWorkers < 0 || e.QueueSize < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_workers", Message: "worker and queue sizes must not be negative"})
	}
	if e.RateLimit < 0 {
		errs = append(errs, ValidationError{Field: "execution.rate_limit", Value: e.RateLimit, Message: "must not be negative"})
	}
	if e.Retry.MaxAttempts < 0 {
		errs = append(errs, ValidationError{Field: "execution.retry.max_attempts", Value: e.Retry.MaxAttempts, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateServerConfig() []error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.ListenAddr == "" {
		return []error{ValidationError{Field: "server.listen_addr", Message: "listen address is required when the server is enabled"}}
	}
	if c.Server.Production && contains(c.Server.AllowedOrigins, "*") {
		return []error{ValidationError{Field: "server.allowed_origins", Value: "*", Message: "wildcard origin is not allowed in production"}}
	}
	return nil
}

func (c *Config) validateSystemConfig() []error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return []error{ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}}
	}
	return nil
}

func (c *Config) validateTelemetryConfig() []error {
	var errs []error
	t := c.Telemetry
	if _, err := telemetry.ParseExporter(t.TraceExporter); err != nil {
		errs = append(errs, ValidationError{Field: "telemetry.trace_exporter", Value: t.TraceExporter, Message: "must be one of: stdout, none"})
	}
	if _, err := telemetry.ParseExporter(t.LogExporter); err != nil {
		errs = append(errs, ValidationError{Field: "telemetry.log_exporter", Value: t.LogExporter, Message: "must be one of: stdout, none"})
	}
	return errs
}

// String returns the configuration as YAML with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration that runs the paper stack locally
func DefaultConfig() *Config {
	return &Config{
		Optimizer: OptimizerConfig{
			Exchange:           "binance",
			Strategy:           "HYBRID",
			MaxExecutionTimeMs: 300_000,
		},
		Fees: FeesConfig{
			Source:   "builtin",
			Endpoint: "/v1/fee-tables",
			Timeout:  10 * time.Second,
		},
		Execution: ExecutionConfig{
			Enabled:          true,
			MaxWorkers:       8,
			QueueSize:        64,
			RateLimit:        25,
			RateBurst:        30,
			PollInterval:     time.Second,
			CancelTimeout:    10 * time.Second,
			QuantityDecimals: 8,
			Retry:            retry.DefaultPolicy,
		},
		Server: ServerConfig{
			Enabled:          true,
			ListenAddr:       ":8080",
			ReadTimeout:      15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			AllowedOrigins:   []string{"http://localhost:8080"},
			MaxConnections:   1000,
			ConnRateLimit:    10,
			ConnRateBurst:    20,
			MaxRequestBodyKB: 64,
		},
		System: SystemConfig{
			LogLevel:    "INFO",
			ServiceName: "exec-optimizer",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
			TraceExporter: "stdout",
			LogExporter:   "none",
		},
	}
}
