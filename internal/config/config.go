// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aristath/bucketeer/internal/modules/settings"
	"github.com/joho/godotenv"
)

// Trading modes
const (
	TradingModePaper = "paper"
	TradingModeLive  = "live"
)

// Config holds process configuration
type Config struct {
	DataDir           string // Base directory for all databases (always absolute)
	LogLevel          string
	Port              int
	DevMode           bool
	TradingMode       string // paper | live
	StrategyPath      string // YAML strategy file; empty = built-in defaults
	CycleSchedule     string // cron spec with seconds field
	RecoverySchedule  string
	DiscordWebhookURL string
	PaperStartingCash float64
	Broker            BrokerConfig
	Backup            *BackupConfig
}

// BrokerConfig holds execution API connection settings
type BrokerConfig struct {
	BaseURL       string
	APIToken      string
	AccountID     string
	RatePerMinute int
	Timeout       time.Duration
}

// BackupConfig holds S3-compatible backup settings
type BackupConfig struct {
	Enabled         bool
	Schedule        string
	Bucket          string
	Endpoint        string // empty = AWS; set for R2/MinIO
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	RetentionDays   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("BUCKETEER_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Port:              getEnvAsInt("PORT", 8080),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		TradingMode:       getEnv("TRADING_MODE", TradingModePaper),
		StrategyPath:      getEnv("STRATEGY_CONFIG", ""),
		CycleSchedule:     getEnv("CYCLE_SCHEDULE", "0 */15 9-16 * * MON-FRI"),
		RecoverySchedule:  getEnv("RECOVERY_SCHEDULE", "0 */5 * * * *"),
		DiscordWebhookURL: getEnv("DISCORD_WEBHOOK_URL", ""),
		PaperStartingCash: getEnvAsFloat("PAPER_STARTING_CASH", 10000),
		Broker: BrokerConfig{
			BaseURL:       getEnv("BROKER_BASE_URL", ""),
			APIToken:      getEnv("BROKER_API_TOKEN", ""),
			AccountID:     getEnv("BROKER_ACCOUNT_ID", ""),
			RatePerMinute: getEnvAsInt("BROKER_RATE_PER_MINUTE", 120),
			Timeout:       time.Duration(getEnvAsInt("BROKER_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Backup: loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// UpdateFromSettings overlays broker credentials stored in the settings database.
// Settings DB values take precedence over environment variables when non-empty.
func (c *Config) UpdateFromSettings(settingsRepo *settings.Repository) error {
	token, err := settingsRepo.Get("broker_api_token")
	if err != nil {
		return fmt.Errorf("failed to get broker_api_token from settings: %w", err)
	}
	if token != nil && *token != "" {
		c.Broker.APIToken = *token
	}

	account, err := settingsRepo.Get("broker_account_id")
	if err != nil {
		return fmt.Errorf("failed to get broker_account_id from settings: %w", err)
	}
	if account != nil && *account != "" {
		c.Broker.AccountID = *account
	}

	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	switch c.TradingMode {
	case TradingModePaper:
	case TradingModeLive:
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("BROKER_BASE_URL is required in live mode")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("BROKER_ACCOUNT_ID is required in live mode")
		}
	default:
		return fmt.Errorf("invalid TRADING_MODE %q (want paper or live)", c.TradingMode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.Broker.RatePerMinute <= 0 {
		return fmt.Errorf("BROKER_RATE_PER_MINUTE must be positive")
	}
	return nil
}

// IsLive reports whether orders go to the real execution API
func (c *Config) IsLive() bool {
	return c.TradingMode == TradingModeLive
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:         getEnvAsBool("BACKUP_ENABLED", false),
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 30 17 * * *"),
		Bucket:          getEnv("BACKUP_BUCKET", ""),
		Endpoint:        getEnv("BACKUP_ENDPOINT", ""),
		Region:          getEnv("BACKUP_REGION", "auto"),
		AccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),
		Prefix:          getEnv("BACKUP_PREFIX", "bucketeer"),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}
