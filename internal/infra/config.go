package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	JWTSecret          string
	StoragePath        string
	StorageBaseURL     string
	GeoIPDBPath        string
	AssistProvider     string
	AssistTimeout      time.Duration
	GeminiAPIKey       string
	GeminiModel        string
	GeminiBaseURL      string
	ListingAPIBaseURL  string
	ListingAPIKey      string
	DraftDebounce      time.Duration
	DraftTTL           time.Duration
	SessionIdleTTL     time.Duration
	MediaMaxItems      int
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		StoragePath:       getEnv("STORAGE_PATH", "./storage"),
		GeoIPDBPath:       os.Getenv("GEOIP_DB_PATH"),
		AssistProvider:    getEnv("ASSIST_PROVIDER", "gemini"),
		AssistTimeout:     time.Second * time.Duration(getEnvInt("ASSIST_TIMEOUT_SECONDS", 15)),
		GeminiAPIKey:      os.Getenv("GEMINI_API_KEY"),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		ListingAPIBaseURL: getEnv("LISTING_API_BASE_URL", "http://localhost:9090"),
		ListingAPIKey:     os.Getenv("LISTING_API_KEY"),
		DraftDebounce:     time.Millisecond * time.Duration(getEnvInt("DRAFT_DEBOUNCE_MS", 400)),
		DraftTTL:          time.Hour * time.Duration(getEnvInt("DRAFT_TTL_HOURS", 168)),
		SessionIdleTTL:    time.Minute * time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 30)),
		MediaMaxItems:     getEnvInt("MEDIA_MAX_ITEMS", 24),
		HTTPReadTimeout:   time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:  time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:   time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	cfg.StorageBaseURL = getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/static", cfg.Port))
	cfg.CORSAllowedOrigins = splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.MediaMaxItems <= 0 {
		cfg.MediaMaxItems = 24
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
