package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort    string
	LogLevel    string
	DatabaseURL string

	// Gemini
	GeminiAPIKey      string
	GeminiBaseURL     string
	PrimaryModel      string
	FallbackModel     string
	UseFallback       bool
	Temperature       float32
	MaxOutputTokens   int32
	LLMStreamTimeout  time.Duration
	LLMRequestTimeout time.Duration

	// Google Custom Search
	SearchAPIKey   string
	SearchEngineID string
	SearchEndpoint string
	SearchTimeout  time.Duration

	// Rate limiting for /api/answer
	RateLimitRequests      int
	RateLimitWindow        time.Duration
	RateLimitSweepInterval time.Duration

	// Coarse per-IP limit for the remaining API routes, 0 disables it.
	APIRateLimitRequests int

	DefaultUserID      int64
	JWTSecret          string
	CORSAllowedOrigins []string
}

// Load reads a .env file when present and builds the configuration from the
// environment. The returned value is meant to be created once and passed down.
func Load() (*Config, bool) {
	envFileLoaded := godotenv.Load() == nil

	cfg := &Config{
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", "answer_engine.db"),

		GeminiAPIKey:      getEnv("GOOGLE_GEMINI_API_KEY", getEnv("GEMINI_API_KEY", "")),
		GeminiBaseURL:     getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		PrimaryModel:      getEnv("GEMINI_PRIMARY_MODEL", "gemini-2.5-flash"),
		FallbackModel:     getEnv("GEMINI_FALLBACK_MODEL", "gemini-2.0-flash-lite"),
		UseFallback:       getEnvAsBool("GEMINI_USE_FALLBACK", true),
		Temperature:       getEnvAsFloat32("GEMINI_TEMPERATURE", 0.7),
		MaxOutputTokens:   int32(getEnvAsInt("GEMINI_MAX_OUTPUT_TOKENS", 2048)),
		LLMStreamTimeout:  getEnvAsDuration("LLM_STREAM_TIMEOUT", 120*time.Second),
		LLMRequestTimeout: getEnvAsDuration("LLM_REQUEST_TIMEOUT", 30*time.Second),

		SearchAPIKey:   getEnv("GOOGLE_CSE_API_KEY", ""),
		SearchEngineID: getEnv("GOOGLE_CSE_CX", ""),
		SearchEndpoint: getEnv("GOOGLE_CSE_ENDPOINT", ""),
		SearchTimeout:  getEnvAsDuration("SEARCH_TIMEOUT", 10*time.Second),

		RateLimitRequests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:        getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitSweepInterval: getEnvAsDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute),

		APIRateLimitRequests: getEnvAsInt("API_RATE_LIMIT_REQUESTS", 120),

		DefaultUserID:      int64(getEnvAsInt("DEFAULT_USER_ID", 1)),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://*", "https://*"}),
	}

	return cfg, envFileLoaded
}

// SearchEnabled reports whether both Custom Search credentials are present.
func (c *Config) SearchEnabled() bool {
	return c.SearchAPIKey != "" && c.SearchEngineID != ""
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 32); err == nil {
		return float32(value)
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
