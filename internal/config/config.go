package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort         string
	DatabaseURL      string
	StorageDir       string
	LogLevel         string
	JWTSecret        string
	EmbeddingModel   string
	ChatModel        string
	EmbedConcurrency int
}

// Load reads configuration from the environment, preferring a .env file when
// one exists. The returned value is meant to be passed down explicitly; there
// is no package-level configuration state.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env is optional, environment variables win

	cfg := &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		DatabaseURL:      getEnv("DATABASE_URL", "docuchat.db"),
		StorageDir:       getEnv("STORAGE_DIR", "data/objects"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		ChatModel:        getEnv("CHAT_MODEL", "gpt-4o-mini"),
		EmbedConcurrency: getEnvAsInt("EMBED_CONCURRENCY", 8),
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if cfg.EmbedConcurrency < 1 {
		cfg.EmbedConcurrency = 1
	}

	return cfg, nil
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
