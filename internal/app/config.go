package app

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	UserAgent       string
	ProviderTimeout time.Duration
	MaxConcurrent   int

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
	BreakerMaxCooldown      time.Duration

	HTMLIndexDisabled      bool
	HTMLIndexEndpoints     string
	HTMLIndexRatePerSecond float64
	HTMLIndexMaxDetails    int

	APIBayDisabled      bool
	APIBayEndpoint      string
	APIBayRatePerSecond float64

	TorznabName     string
	TorznabEndpoint string
	TorznabAPIKey   string

	RedisURL      string
	CacheTTL      time.Duration
	CacheDisabled bool

	RateLimitRPS   float64
	RateLimitBurst int
}

// LoadConfig reads the process environment. Variables from a .env file in
// the working directory fill in anything not already set.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Default().Warn("failed to load .env file", slog.String("error", err.Error()))
	}
	cooldown := getEnvDuration("BREAKER_COOLDOWN_SECONDS", 300*time.Second)
	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8090"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:       getEnv("SEARCH_USER_AGENT", "musicsearch/1.0"),
		ProviderTimeout: getEnvDuration("PROVIDER_TIMEOUT_SECONDS", 10*time.Second),
		MaxConcurrent:   getEnvInt("SEARCH_MAX_CONCURRENT_PROVIDERS", 10),

		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 3),
		BreakerCooldown:         cooldown,
		BreakerMaxCooldown:      getEnvDuration("BREAKER_MAX_COOLDOWN_SECONDS", cooldown),

		HTMLIndexDisabled:      getEnvBool("HTMLINDEX_DISABLED", false),
		HTMLIndexEndpoints:     getEnv("HTMLINDEX_ENDPOINTS", "https://x1337x.ws,https://1337x.to,https://1377x.to"),
		HTMLIndexRatePerSecond: getEnvFloat("HTMLINDEX_RATE_PER_SECOND", 4),
		HTMLIndexMaxDetails:    getEnvInt("HTMLINDEX_MAX_DETAILS", 20),

		APIBayDisabled:      getEnvBool("APIBAY_DISABLED", false),
		APIBayEndpoint:      getEnv("APIBAY_ENDPOINT", "https://apibay.org/q.php"),
		APIBayRatePerSecond: getEnvFloat("APIBAY_RATE_PER_SECOND", 2),

		TorznabName:     getEnv("TORZNAB_NAME", "torznab"),
		TorznabEndpoint: getEnv("TORZNAB_ENDPOINT", ""),
		TorznabAPIKey:   strings.TrimSpace(os.Getenv("TORZNAB_API_KEY")),

		RedisURL:      getEnv("REDIS_URL", ""),
		CacheTTL:      getEnvDuration("SEARCH_CACHE_TTL_SECONDS", 120*time.Second),
		CacheDisabled: getEnvBool("SEARCH_CACHE_DISABLED", false),

		RateLimitRPS:   getEnvFloat("HTTP_RATE_LIMIT_RPS", 50),
		RateLimitBurst: getEnvInt("HTTP_RATE_LIMIT_BURST", 100),
	}
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getEnvInt(key, 0)
	if seconds == 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
