package configs

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Predictor PredictorConfig
	Telegram  TelegramConfig
	Fetcher   FetcherConfig
	Tuning    TuningConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL string
}

// PredictorConfig holds predictor RPC configuration
type PredictorConfig struct {
	URL     string
	Timeout time.Duration
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string
}

// FetcherConfig holds market data fetcher configuration
type FetcherConfig struct {
	KlinesURL string
}

// TuningConfig holds the tunable knobs named in spec.md §6 for C1-C6,
// except the predictor timeout, which lives in PredictorConfig.
type TuningConfig struct {
	TickIntervalSignal       time.Duration
	TickIntervalPosition     time.Duration
	WorkerPoolSignal         int
	WorkerPoolPosition       int
	ConfidenceDeltaThreshold float64
	MinCandlesForPrediction  int
	DedupWindow              time.Duration
	DefaultDailyQuota        int
	DefaultCooldownMinutes   int
	DailyTrainCron           string
	WeeklyTrainCron          string
	ABTestDurationDays       int
	ABTestSplit              float64
	PromotionEpsilon         float64
	TrailingBreakevenPct     float64
	TrailingLockPct          float64
	StaleHoldHours           int
}

// Load loads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("GO_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvInt("DATABASE_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DATABASE_MIN_CONNS", 4)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		Predictor: PredictorConfig{
			URL:     getEnv("PREDICTOR_URL", "http://localhost:8000"),
			Timeout: getEnvDuration("PREDICTOR_TIMEOUT", 30*time.Second),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		},
		Fetcher: FetcherConfig{
			KlinesURL: getEnv("KLINES_URL", "https://fapi.binance.com/fapi/v1/klines"),
		},
		Tuning: TuningConfig{
			TickIntervalSignal:       getEnvDuration("TICK_INTERVAL_SIGNAL", 1*time.Minute),
			TickIntervalPosition:     getEnvDuration("TICK_INTERVAL_POSITION", 60*time.Second),
			WorkerPoolSignal:         getEnvInt("WORKER_POOL_SIGNAL", 8),
			WorkerPoolPosition:       getEnvInt("WORKER_POOL_POSITION", 8),
			ConfidenceDeltaThreshold: getEnvFloat("CONFIDENCE_DELTA_THRESHOLD", 0.1),
			MinCandlesForPrediction:  getEnvInt("MIN_CANDLES_FOR_PREDICTION", 60),
			DedupWindow:              getEnvDuration("DEDUP_WINDOW", 30*time.Minute),
			DefaultDailyQuota:        getEnvInt("DEFAULT_DAILY_QUOTA", 20),
			DefaultCooldownMinutes:   getEnvInt("DEFAULT_COOLDOWN_MINUTES", 15),
			DailyTrainCron:           getEnv("DAILY_TRAIN_CRON", "0 0 2 * * *"),
			WeeklyTrainCron:          getEnv("WEEKLY_TRAIN_CRON", "0 0 1 * * 0"),
			ABTestDurationDays:       getEnvInt("AB_TEST_DURATION_DAYS", 7),
			ABTestSplit:              getEnvFloat("AB_TEST_SPLIT", 0.5),
			PromotionEpsilon:         getEnvFloat("PROMOTION_EPSILON", 0.02),
			TrailingBreakevenPct:     getEnvFloat("TRAILING_BREAKEVEN_PCT", 0.5),
			TrailingLockPct:          getEnvFloat("TRAILING_LOCK_PCT", 0.8),
			StaleHoldHours:           getEnvInt("STALE_HOLD_HOURS", 24),
		},
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a time.Duration or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
