package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AnalysisAPIURL string
	AnalysisAPIKey string
	GeminiAPIKey   string
	UseMockBackend bool
	DefaultModel   string
	DatabaseURL    string
	HTTPPort       string
	LogLevel       string
	JWTSecret      string

	BackendTimeout    time.Duration
	HighlightDuration time.Duration
	SettleDelay       time.Duration
	PreviewRows       int
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		AnalysisAPIURL:    getEnv("ANALYSIS_API_URL", ""),
		AnalysisAPIKey:    getEnv("ANALYSIS_API_KEY", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		UseMockBackend:    getEnvAsBool("USE_MOCK_BACKEND", false),
		DefaultModel:      getEnv("DEFAULT_MODEL", ""),
		DatabaseURL:       getEnv("DATABASE_URL", "insight_chat.db"),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:         getEnv("JWT_SECRET", ""),
		BackendTimeout:    getEnvAsDuration("BACKEND_TIMEOUT", 25*time.Second),
		HighlightDuration: getEnvAsDuration("HIGHLIGHT_DURATION", 3*time.Second),
		SettleDelay:       getEnvAsDuration("SETTLE_DELAY", 200*time.Millisecond),
		PreviewRows:       getEnvAsInt("PREVIEW_ROWS", 5),
	}

	if AppConfig.AnalysisAPIURL == "" && AppConfig.GeminiAPIKey == "" && !AppConfig.UseMockBackend {
		log.Fatal("ANALYSIS_API_URL or GEMINI_API_KEY is required unless USE_MOCK_BACKEND=true")
	}

	if AppConfig.DefaultModel == "" {
		AppConfig.DefaultModel = defaultModel(AppConfig)
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
}

// defaultModel picks a model the configured backends can serve. Gemini is
// the only choice when no analysis service is configured.
func defaultModel(cfg Config) string {
	if cfg.AnalysisAPIURL == "" && !cfg.UseMockBackend && cfg.GeminiAPIKey != "" {
		return "gemini-1.5-flash"
	}
	return "claude-3-opus"
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
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
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
