package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the engine.
type Config struct {
	Port string

	// File locations
	SymbolsPath  string // YAML pair definitions
	AccountsPath string // encrypted account credentials
	DBPath       string // sqlite trade store
	CSVDir       string // per-account trade CSV exports

	// Market data feed
	FeedPermits    int           // concurrent exchange calls allowed
	MaxRetries     int           // attempts per exchange call
	BackoffBase    time.Duration // first retry delay, doubles per attempt
	RequestsPerSec float64       // global request pacing
	CandleTTL      time.Duration // OHLCV cache lifetime, 0 disables

	// Connection supervision
	SweepInterval time.Duration // reconnect sweep period

	// Prediction provider
	PredictorURL     string // remote model endpoint; empty uses local trend fit
	PredictTimeframe string
	PredictCandles   int

	// Risk
	RiskCooldown time.Duration // wait after a daily-loss trip

	// Execution
	DryRun bool

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:             getEnv("PORT", "8080"),
		SymbolsPath:      getEnv("SYMBOLS_PATH", "./config/symbols.yaml"),
		AccountsPath:     getEnv("ACCOUNTS_PATH", "./config/accounts.enc.json"),
		DBPath:           getEnv("DB_PATH", "./data/ladderbot.db"),
		CSVDir:           getEnv("CSV_DIR", "./data/trades"),
		FeedPermits:      getEnvInt("FEED_PERMITS", 10),
		MaxRetries:       getEnvInt("MAX_RETRIES", 5),
		BackoffBase:      getEnvDuration("BACKOFF_BASE", time.Second),
		RequestsPerSec:   getEnvFloat("REQUESTS_PER_SEC", 10),
		CandleTTL:        getEnvDuration("CANDLE_TTL", time.Minute),
		SweepInterval:    getEnvDuration("SWEEP_INTERVAL", 10*time.Second),
		PredictorURL:     getEnv("PREDICTOR_URL", ""),
		PredictTimeframe: getEnv("PREDICT_TIMEFRAME", "1h"),
		PredictCandles:   getEnvInt("PREDICT_CANDLES", 25),
		RiskCooldown:     getEnvDuration("RISK_COOLDOWN", time.Hour),
		DryRun:           getEnv("DRY_RUN", "false") == "true",
		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare numbers are read as seconds.
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return def
}
