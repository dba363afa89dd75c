package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the bot.
type Config struct {
	Port string

	// Venue
	SimMode   bool
	Venue     string
	Pairs     []string
	APIKey    string
	APISecret string

	// Venue rate limiting and polling
	VenueRPS     float64
	VenueBurst   int
	PollInterval time.Duration
	Workers      int

	// Files
	DBPath         string
	StrategiesPath string

	// Risk boot defaults (persisted values win after first run)
	MaxPositionSize      float64
	MaxDailyLoss         float64
	MaxConsecutiveLosses int
	StopLossPct          float64
	TakeProfitPct        float64
	LeverageCap          int
	LiqSafetyMargin      float64
	MinNotional          float64

	// Auth
	JWTSecret        string
	OperatorPassHash string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		SimMode:   getEnv("SIM_MODE", "true") == "true",
		Venue:     strings.ToLower(getEnv("VENUE", "sim")),
		Pairs:     splitAndTrim(getEnv("PAIRS", "BTC_USDT,ETH_USDT")),
		APIKey:    os.Getenv("VENUE_API_KEY"),
		APISecret: os.Getenv("VENUE_API_SECRET"),

		VenueRPS:     getEnvFloat("VENUE_RPS", 10),
		VenueBurst:   getEnvInt("VENUE_BURST", 20),
		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		Workers:      getEnvInt("ORDER_WORKERS", 2),

		DBPath:         getEnv("DB_PATH", "./data/scalpbot.db"),
		StrategiesPath: getEnv("STRATEGIES_PATH", "./strategies.yaml"),

		MaxPositionSize:      getEnvFloat("MAX_POSITION_SIZE", 1000),
		MaxDailyLoss:         getEnvFloat("MAX_DAILY_LOSS", 50),
		MaxConsecutiveLosses: getEnvInt("MAX_CONSECUTIVE_LOSSES", 3),
		StopLossPct:          getEnvFloat("STOP_LOSS_PCT", 0.01),
		TakeProfitPct:        getEnvFloat("TAKE_PROFIT_PCT", 0.005),
		LeverageCap:          getEnvInt("LEVERAGE_CAP", 10),
		LiqSafetyMargin:      getEnvFloat("LIQ_SAFETY_MARGIN", 0.02),
		MinNotional:          getEnvFloat("MIN_NOTIONAL", 5),

		JWTSecret:        getEnv("JWT_SECRET", "dev-secret"),
		OperatorPassHash: os.Getenv("OPERATOR_PASSWORD_HASH"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
