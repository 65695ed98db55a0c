package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string
	DatabaseURL  string
	HTTPPort     string
	LogLevel     string
	JWTSecret    string
	MediaDir     string

	// Conversation tuning
	HistoryWindow       int
	MaxContextChunks    int
	SimilarityThreshold float64
	EmbeddingDimensions int
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:         getEnv("DATABASE_URL", "chitchat.db"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		MediaDir:            getEnv("MEDIA_DIR", "./media"),
		HistoryWindow:       getEnvAsInt("HISTORY_WINDOW", 10),
		MaxContextChunks:    getEnvAsInt("MAX_CONTEXT_CHUNKS", 3),
		SimilarityThreshold: getEnvAsFloat("RAG_SIMILARITY_THRESHOLD", 0.75),
		EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 768),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
