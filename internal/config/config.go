package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey     string
	RelevanceAPIKey  string
	RelevanceBaseURL string
	RelevanceModel   string
	DatabaseURL      string
	HTTPPort         string
	GCSBucket        string
	StaticDir        string
	LogLevel         string
	DebugEndpoints   bool
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		RelevanceAPIKey:  getEnv("RELEVANCE_API_KEY", ""),
		RelevanceBaseURL: getEnv("RELEVANCE_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai/"),
		RelevanceModel:   getEnv("RELEVANCE_MODEL", "gemini-2.0-flash"),
		DatabaseURL:      getEnv("DATABASE_URL", "finops.db"),
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		GCSBucket:        getEnv("GCS_BUCKET", ""),
		StaticDir:        getEnv("STATIC_DIR", "public"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		DebugEndpoints:   getEnv("DEBUG_ENDPOINTS", "") == "true",
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.RelevanceAPIKey == "" {
		// The relevance model is reached through an OpenAI-compatible endpoint;
		// without a dedicated key it shares the Gemini credentials.
		AppConfig.RelevanceAPIKey = AppConfig.GeminiAPIKey
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
