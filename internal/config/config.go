package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis (optional, empty disables event publishing)
	RedisURL string

	// Protocol
	ProtocolTimeout time.Duration // per round-trip answer deadline

	// Game
	GameName string // key of the registered game implementation

	// Matchmaking
	TickInterval                time.Duration
	MatchQualityThreshold       float64
	PercentageMinPlayersWaiting float64
	PercentalTimeBonus          float64

	// Connection throttling (attempts per IP)
	ConnRateCapacity int64
	ConnRateRefill   int64
}

func Load() (*Config, error) {
	// load .env if present
	_ = godotenv.Load()

	cfg := &Config{
		Port:                        getEnv("PORT", "65335"),
		Env:                         getEnv("ENV", "development"),
		LogLevel:                    getEnv("LOG_LEVEL", "info"),
		DatabaseURL:                 getEnv("DATABASE_URL", ""),
		RedisURL:                    getEnv("REDIS_URL", ""),
		ProtocolTimeout:             parseDuration(getEnv("PROTOCOL_TIMEOUT", "10s")),
		GameName:                    getEnv("GAME_NAME", "rockpaperscissors"),
		TickInterval:                parseDuration(getEnv("TICK_INTERVAL", "1s")),
		MatchQualityThreshold:       parseFloat(getEnv("MATCH_QUALITY_THRESHOLD", "0.8"), 0.8),
		PercentageMinPlayersWaiting: parseFloat(getEnv("PERCENTAGE_MIN_PLAYERS_WAITING", "0.1"), 0.1),
		PercentalTimeBonus:          parseFloat(getEnv("PERCENTAL_TIME_BONUS", "0.1"), 0.1),
		ConnRateCapacity:            parseInt(getEnv("CONN_RATE_CAPACITY", "10"), 10),
		ConnRateRefill:              parseInt(getEnv("CONN_RATE_REFILL", "1"), 1),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Second
	}
	return d
}

func parseFloat(s string, defaultValue float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func parseInt(s string, defaultValue int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultValue
	}
	return n
}
