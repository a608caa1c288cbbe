// Package config provides centralized configuration management for the trade tape collector.
// Configuration is layered from defaults, an optional JSON or YAML file, and environment
// variables, then validated before any component is constructed.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name"`
	Version    string `json:"version" yaml:"version"`
	ConfigPath string `json:"-" yaml:"-"`

	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Exchange      ExchangeConfig      `json:"exchange" yaml:"exchange"`
	History       HistoryConfig       `json:"history" yaml:"history"`
	Analysis      AnalysisConfig      `json:"analysis" yaml:"analysis"`
	Collector     CollectorConfig     `json:"collector" yaml:"collector"`
	Scheduler     SchedulerConfig     `json:"scheduler" yaml:"scheduler"`
	API           APIConfig           `json:"api" yaml:"api"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" yaml:"error_handling"`
}

// StorageConfig configures where trade logs are persisted
type StorageConfig struct {
	Type        string `json:"type" yaml:"type"`                 // "file", "memory", "duckdb", "sqlite"
	Directory   string `json:"directory" yaml:"directory"`       // Directory for the file store
	DatabaseURL string `json:"database_url" yaml:"database_url"` // Path for duckdb/sqlite
}

// ExchangeConfig configures the trade history source
type ExchangeConfig struct {
	Type        string            `json:"type" yaml:"type"`               // "poloniex"
	BaseURL     string            `json:"base_url" yaml:"base_url"`       // Public API endpoint
	RateLimit   int               `json:"rate_limit" yaml:"rate_limit"`   // Requests per second
	Timeout     string            `json:"timeout" yaml:"timeout"`         // Per-request timeout
	CachePolicy string            `json:"cache_policy" yaml:"cache_policy"` // never, allow, force
	CacheDir    string            `json:"cache_dir" yaml:"cache_dir"`
	RetryPolicy RetryPolicyConfig `json:"retry_policy" yaml:"retry_policy"`
}

// HistoryConfig configures the per-market trade log and its fetch planner.
// All values are duration strings.
type HistoryConfig struct {
	StepSize        string `json:"step_size" yaml:"step_size"`
	Retention       string `json:"retention" yaml:"retention"`
	UpdateThreshold string `json:"update_threshold" yaml:"update_threshold"`
	LookAhead       string `json:"look_ahead" yaml:"look_ahead"`
	BigGapWarning   string `json:"big_gap_warning" yaml:"big_gap_warning"`
	FetchTimeout    string `json:"fetch_timeout" yaml:"fetch_timeout"`
}

// AnalysisConfig configures bucketing, smoothing and signal generation
type AnalysisConfig struct {
	BucketSize          string  `json:"bucket_size" yaml:"bucket_size"`
	EMAFactor           float64 `json:"ema_factor" yaml:"ema_factor"`
	PlotCut             int     `json:"plot_cut" yaml:"plot_cut"`
	FastWindow          int     `json:"fast_window" yaml:"fast_window"`
	MediumWindow        int     `json:"medium_window" yaml:"medium_window"`
	SlowWindow          int     `json:"slow_window" yaml:"slow_window"`
	FlushTrailingBucket bool    `json:"flush_trailing_bucket" yaml:"flush_trailing_bucket"`
}

// CollectorConfig configures multi-market synchronisation
type CollectorConfig struct {
	WorkerCount     int    `json:"worker_count" yaml:"worker_count"`
	MaxRounds       int    `json:"max_rounds" yaml:"max_rounds"` // Upper bound on fetch rounds per sync
	MinDuration     string `json:"min_duration" yaml:"min_duration"`
	GracefulTimeout string `json:"graceful_timeout" yaml:"graceful_timeout"`
}

// SchedulerConfig configures periodic synchronisation
type SchedulerConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Cron    string   `json:"cron" yaml:"cron"` // Six-field cron spec, seconds first
	Markets []string `json:"markets" yaml:"markets"`
}

// APIConfig configures the read-only HTTP surface
type APIConfig struct {
	Enabled        bool   `json:"enabled" yaml:"enabled"`
	Port           int    `json:"port" yaml:"port"`
	RequestTimeout string `json:"request_timeout" yaml:"request_timeout"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level"`         // debug, info, warn, error
	Format        string            `json:"format" yaml:"format"`       // json, text
	Output        string            `json:"output" yaml:"output"`       // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path"` // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`   // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"`
	MaxAge        int               `json:"max_age" yaml:"max_age"` // Days
	Compress      bool              `json:"compress" yaml:"compress"`
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy    RetryPolicyConfig            `json:"global_retry_policy" yaml:"global_retry_policy"`
	ComponentPolicies    map[string]RetryPolicyConfig `json:"component_policies" yaml:"component_policies"`
	EnableCircuitBreaker bool                         `json:"enable_circuit_breaker" yaml:"enable_circuit_breaker"`
	CircuitBreakerConfig CircuitBreakerConfig         `json:"circuit_breaker_config" yaml:"circuit_breaker_config"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay    string   `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay        string   `json:"max_delay" yaml:"max_delay"`
	BackoffStrategy string   `json:"backoff_strategy" yaml:"backoff_strategy"` // fixed, exponential, linear
	RetryableErrors []string `json:"retryable_errors" yaml:"retryable_errors"`
	Jitter          bool     `json:"jitter" yaml:"jitter"`
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  string `json:"recovery_timeout" yaml:"recovery_timeout"`
	HalfOpenRequests int    `json:"half_open_requests" yaml:"half_open_requests"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configPath string, logger *slog.Logger) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigManager{
		configPath: configPath,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"exchange_type", config.Exchange.Type,
		"cache_policy", config.Exchange.CachePolicy,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file, chosen by extension
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}

	// Storage
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	}
	if val := os.Getenv("DATA_DIR"); val != "" {
		config.Storage.Directory = val
	}

	// Exchange
	if val := os.Getenv("EXCHANGE_BASE_URL"); val != "" {
		config.Exchange.BaseURL = val
	}
	if val := os.Getenv("CACHE_POLICY"); val != "" {
		config.Exchange.CachePolicy = val
	}
	if val := os.Getenv("CACHE_DIR"); val != "" {
		config.Exchange.CacheDir = val
	}
	if val := os.Getenv("RATE_LIMIT"); val != "" {
		if rateLimit, err := strconv.Atoi(val); err == nil {
			config.Exchange.RateLimit = rateLimit
		}
	}

	// History
	if val := os.Getenv("STEP_SIZE"); val != "" {
		config.History.StepSize = val
	}
	if val := os.Getenv("RETENTION"); val != "" {
		config.History.Retention = val
	}
	if val := os.Getenv("UPDATE_THRESHOLD"); val != "" {
		config.History.UpdateThreshold = val
	}

	// Collector
	if val := os.Getenv("WORKER_COUNT"); val != "" {
		if workerCount, err := strconv.Atoi(val); err == nil {
			config.Collector.WorkerCount = workerCount
		}
	}

	// Scheduler
	if val := os.Getenv("SCHEDULER_ENABLED"); val != "" {
		config.Scheduler.Enabled = val == "true"
	}
	if val := os.Getenv("SCHEDULER_CRON"); val != "" {
		config.Scheduler.Cron = val
	}
	if val := os.Getenv("MARKETS"); val != "" {
		config.Scheduler.Markets = strings.Split(val, ",")
	}

	// API
	if val := os.Getenv("API_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.API.Port = port
		}
	}

	// Logging
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	validStorage := map[string]bool{"file": true, "memory": true, "duckdb": true, "sqlite": true}
	if config.Storage.Type == "" {
		errors = append(errors, "storage.type is required")
	} else if !validStorage[config.Storage.Type] {
		errors = append(errors, "storage.type must be one of: file, memory, duckdb, sqlite")
	}
	if config.Storage.Type == "file" && config.Storage.Directory == "" {
		errors = append(errors, "storage.directory is required for file storage")
	}
	if (config.Storage.Type == "duckdb" || config.Storage.Type == "sqlite") && config.Storage.DatabaseURL == "" {
		errors = append(errors, fmt.Sprintf("storage.database_url is required for %s storage", config.Storage.Type))
	}

	if config.Exchange.Type == "" {
		errors = append(errors, "exchange.type is required")
	}
	if config.Exchange.RateLimit <= 0 {
		errors = append(errors, "exchange.rate_limit must be greater than 0")
	}
	validPolicies := map[string]bool{"never": true, "allow": true, "force": true}
	if !validPolicies[config.Exchange.CachePolicy] {
		errors = append(errors, "exchange.cache_policy must be one of: never, allow, force")
	}
	if config.Exchange.CachePolicy != "never" && config.Exchange.CacheDir == "" {
		errors = append(errors, "exchange.cache_dir is required unless cache_policy is never")
	}
	errors = appendDurationErrors(errors, map[string]string{
		"exchange.timeout":         config.Exchange.Timeout,
		"history.step_size":        config.History.StepSize,
		"history.retention":        config.History.Retention,
		"history.update_threshold": config.History.UpdateThreshold,
		"history.look_ahead":       config.History.LookAhead,
		"history.big_gap_warning":  config.History.BigGapWarning,
		"history.fetch_timeout":    config.History.FetchTimeout,
		"analysis.bucket_size":     config.Analysis.BucketSize,
	})

	if config.Analysis.EMAFactor <= 0 || config.Analysis.EMAFactor > 1 {
		errors = append(errors, "analysis.ema_factor must be in (0, 1]")
	}
	if config.Analysis.PlotCut < 0 {
		errors = append(errors, "analysis.plot_cut must not be negative")
	}
	if config.Analysis.FastWindow <= 0 || config.Analysis.MediumWindow <= 0 || config.Analysis.SlowWindow <= 0 {
		errors = append(errors, "analysis windows must be greater than 0")
	} else if !(config.Analysis.FastWindow < config.Analysis.MediumWindow && config.Analysis.MediumWindow < config.Analysis.SlowWindow) {
		errors = append(errors, "analysis windows must satisfy fast < medium < slow")
	}

	if config.Collector.WorkerCount <= 0 {
		errors = append(errors, "collector.worker_count must be greater than 0")
	}
	if config.Collector.MaxRounds <= 0 {
		errors = append(errors, "collector.max_rounds must be greater than 0")
	}

	if config.Scheduler.Enabled {
		if config.Scheduler.Cron == "" {
			errors = append(errors, "scheduler.cron is required when scheduler is enabled")
		}
		if len(config.Scheduler.Markets) == 0 {
			errors = append(errors, "scheduler.markets is required when scheduler is enabled")
		}
	}

	if config.API.Enabled && (config.API.Port <= 0 || config.API.Port > 65535) {
		errors = append(errors, "api.port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func appendDurationErrors(errors []string, fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		d, err := time.ParseDuration(fields[key])
		if err != nil {
			errors = append(errors, fmt.Sprintf("%s is not a valid duration: %v", key, err))
			continue
		}
		if d <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive", key))
		}
	}
	return errors
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig writes the current configuration to the config file, in the format
// implied by its extension
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.config)
	default:
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "trade-tape",
		Version: "1.0.0",
		Storage: StorageConfig{
			Type:        "file",
			Directory:   "./data",
			DatabaseURL: "./data/trades.db",
		},
		Exchange: ExchangeConfig{
			Type:        "poloniex",
			BaseURL:     "https://poloniex.com/public",
			RateLimit:   6,
			Timeout:     "15s",
			CachePolicy: "never",
			CacheDir:    "./cache",
			RetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "1s",
				MaxDelay:        "30s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"timeout", "rate_limit", "server_error"},
				Jitter:          true,
			},
		},
		History: HistoryConfig{
			StepSize:        "1h",
			Retention:       "24h",
			UpdateThreshold: "60s",
			LookAhead:       "60s",
			BigGapWarning:   "6h",
			FetchTimeout:    "30s",
		},
		Analysis: AnalysisConfig{
			BucketSize:          "5m",
			EMAFactor:           0.005,
			PlotCut:             50,
			FastWindow:          5,
			MediumWindow:        12,
			SlowWindow:          48,
			FlushTrailingBucket: false,
		},
		Collector: CollectorConfig{
			WorkerCount:     4,
			MaxRounds:       100,
			MinDuration:     "1h",
			GracefulTimeout: "30s",
		},
		Scheduler: SchedulerConfig{
			Enabled: false,
			Cron:    "0 */5 * * * *",
			Markets: []string{"BTC_ETH"},
		},
		API: APIConfig{
			Enabled:        false,
			Port:           8080,
			RequestTimeout: "5s",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "trade-tape",
			},
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     3,
				InitialDelay:    "1s",
				MaxDelay:        "60s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"timeout", "network", "transient_fetch"},
				Jitter:          true,
			},
			ComponentPolicies:    make(map[string]RetryPolicyConfig),
			EnableCircuitBreaker: true,
			CircuitBreakerConfig: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  "30s",
				HalfOpenRequests: 1,
			},
		},
	}
}

// Duration parses a duration string that has already passed validation.
// Invalid input yields zero.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// Seconds parses a duration string into fractional seconds
func Seconds(s string) float64 {
	return Duration(s).Seconds()
}

// String returns an indented JSON rendering of the configuration
func (c *AppConfig) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
