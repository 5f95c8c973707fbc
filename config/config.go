package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"pitmon/internal/core"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	Logging   LoggingConfig   `json:"logging"`
	Detection DetectionConfig `json:"detection"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	APIKey string `json:"api_key"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `json:"level"`  // debug|info|warn|error
	Format string `json:"format"` // json|text
}

// DetectionConfig contains the session detection thresholds. Zero values are
// replaced with defaults by Validate.
type DetectionConfig struct {
	RiseThresholdF     float64 `json:"rise_threshold_f"`
	StartWindowMinutes int     `json:"start_window_minutes"`
	ConfirmRiseMinutes int     `json:"confirm_rise_minutes"`
	EndWindowMinutes   int     `json:"end_window_minutes"`
	StableVarianceF    float64 `json:"stable_variance_f"`
	MinSessionMinutes  int     `json:"min_session_minutes"`
	StaleTimeoutHours  int     `json:"stale_timeout_hours"`
	BaselineWindowSize int     `json:"baseline_window_size"`
	BaselineMinSamples int     `json:"baseline_min_samples"`
	CleanupIntervalMin int     `json:"cleanup_interval_minutes"`
	PersistIntervalSec int     `json:"persist_interval_seconds"`
}

// Validate validates the configuration and applies detection defaults
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	if c.Security.APIKey == "" {
		return fmt.Errorf("%w: API key is required", ErrInvalidConfig)
	}

	d := &c.Detection
	if d.RiseThresholdF < 0 || d.StableVarianceF < 0 {
		return fmt.Errorf("%w: thresholds cannot be negative", ErrInvalidConfig)
	}
	defaults := core.DefaultDetectorConfig()
	if d.RiseThresholdF == 0 {
		d.RiseThresholdF = defaults.RiseThreshold
	}
	if d.StartWindowMinutes == 0 {
		d.StartWindowMinutes = int(defaults.StartWindow.Minutes())
	}
	if d.ConfirmRiseMinutes == 0 {
		d.ConfirmRiseMinutes = int(defaults.ConfirmRise.Minutes())
	}
	if d.EndWindowMinutes == 0 {
		d.EndWindowMinutes = int(defaults.EndWindow.Minutes())
	}
	if d.StableVarianceF == 0 {
		d.StableVarianceF = defaults.StableVariance
	}
	if d.MinSessionMinutes == 0 {
		d.MinSessionMinutes = int(defaults.MinSessionDuration.Minutes())
	}
	if d.StaleTimeoutHours == 0 {
		d.StaleTimeoutHours = int(defaults.StaleTimeout.Hours())
	}
	if d.BaselineWindowSize == 0 {
		d.BaselineWindowSize = core.DefaultBaselineWindowSize
	}
	if d.BaselineMinSamples == 0 {
		d.BaselineMinSamples = core.DefaultBaselineMinSamples
	}
	if d.CleanupIntervalMin == 0 {
		d.CleanupIntervalMin = 5
	}
	if d.PersistIntervalSec == 0 {
		d.PersistIntervalSec = 10
	}

	return nil
}

// DetectorConfig converts the configured thresholds into the core type
func (c *Config) DetectorConfig() core.DetectorConfig {
	d := c.Detection
	return core.DetectorConfig{
		RiseThreshold:      d.RiseThresholdF,
		StartWindow:        time.Duration(d.StartWindowMinutes) * time.Minute,
		ConfirmRise:        time.Duration(d.ConfirmRiseMinutes) * time.Minute,
		EndWindow:          time.Duration(d.EndWindowMinutes) * time.Minute,
		StableVariance:     d.StableVarianceF,
		MinSessionDuration: time.Duration(d.MinSessionMinutes) * time.Minute,
		StaleTimeout:       time.Duration(d.StaleTimeoutHours) * time.Hour,
	}
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("PITMON_HOST", "0.0.0.0"),
			Port: getEnvInt("PITMON_PORT", 8080),
		},
		Database: DatabaseConfig{
			Path: getEnv("PITMON_DB_PATH", "./pitmon.db"),
		},
		Security: SecurityConfig{
			APIKey: getEnv("PITMON_API_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("PITMON_LOG_LEVEL", "info"),
			Format: getEnv("PITMON_LOG_FORMAT", "json"),
		},
		Detection: DetectionConfig{
			RiseThresholdF:     getEnvFloat("PITMON_RISE_THRESHOLD_F", 0),
			StartWindowMinutes: getEnvInt("PITMON_START_WINDOW_MIN", 0),
			ConfirmRiseMinutes: getEnvInt("PITMON_CONFIRM_RISE_MIN", 0),
			EndWindowMinutes:   getEnvInt("PITMON_END_WINDOW_MIN", 0),
			StableVarianceF:    getEnvFloat("PITMON_STABLE_VARIANCE_F", 0),
			MinSessionMinutes:  getEnvInt("PITMON_MIN_SESSION_MIN", 0),
			StaleTimeoutHours:  getEnvInt("PITMON_STALE_TIMEOUT_H", 0),
			BaselineWindowSize: getEnvInt("PITMON_BASELINE_WINDOW", 0),
			BaselineMinSamples: getEnvInt("PITMON_BASELINE_MIN_SAMPLES", 0),
			CleanupIntervalMin: getEnvInt("PITMON_CLEANUP_INTERVAL_MIN", 0),
			PersistIntervalSec: getEnvInt("PITMON_PERSIST_INTERVAL_SEC", 0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var floatVal float64
		fmt.Sscanf(value, "%f", &floatVal)
		return floatVal
	}
	return defaultValue
}
