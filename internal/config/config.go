package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Fyers     Fyers     `mapstructure:"fyers"`
	Queue     Queue     `mapstructure:"queue"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
}

// Fyers holds the configuration for the Fyers broker API.
type Fyers struct {
	BaseURL           string   `mapstructure:"base_url"`
	SymbolMasterURLs  []string `mapstructure:"symbol_master_urls"`
	RequestTimeoutSec int      `mapstructure:"request_timeout_sec"`
	RateLimit         float64  `mapstructure:"rate_limit"`
	RateLimitBurst    int      `mapstructure:"rate_limit_burst"`
	// TokenValidityDays is how long a refresh token stays usable before the
	// credential must be re-authorized by the user.
	TokenValidityDays int `mapstructure:"token_validity_days"`
}

// Queue holds the configuration for the job queue and worker pools.
type Queue struct {
	TradeWorkers      int `mapstructure:"trade_workers"`
	RolloverWorkers   int `mapstructure:"rollover_workers"`
	MaxAttempts       int `mapstructure:"max_attempts"`
	BackoffBaseMs     int `mapstructure:"backoff_base_ms"`
	PollIntervalMs    int `mapstructure:"poll_interval_ms"`
	RetainedCompleted int `mapstructure:"retained_completed"`
	RetainedFailed    int `mapstructure:"retained_failed"`
}

// Scheduler holds the cron expressions for the background sweeps.
type Scheduler struct {
	TokenRefreshCron  string `mapstructure:"token_refresh_cron"`
	IngestionCron     string `mapstructure:"ingestion_cron"`
	RolloverSweepCron string `mapstructure:"rollover_sweep_cron"`
	JobPruneCron      string `mapstructure:"job_prune_cron"`
}

// Server holds the configuration for the webhook/API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("fyers.base_url", "https://api-t1.fyers.in/api/v3")
	viper.SetDefault("fyers.request_timeout_sec", 10)
	viper.SetDefault("fyers.rate_limit", 5) // requests per second
	viper.SetDefault("fyers.rate_limit_burst", 2)
	viper.SetDefault("fyers.token_validity_days", 14)
	viper.SetDefault("queue.trade_workers", 3)
	viper.SetDefault("queue.rollover_workers", 2)
	viper.SetDefault("queue.max_attempts", 3)
	viper.SetDefault("queue.backoff_base_ms", 1000)
	viper.SetDefault("queue.poll_interval_ms", 500)
	viper.SetDefault("queue.retained_completed", 1000)
	viper.SetDefault("queue.retained_failed", 5000)
	viper.SetDefault("scheduler.token_refresh_cron", "0 2 * * *")
	viper.SetDefault("scheduler.ingestion_cron", "30 8 * * *")
	viper.SetDefault("scheduler.rollover_sweep_cron", "* * * * *")
	viper.SetDefault("scheduler.job_prune_cron", "0 * * * *")

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
