package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	API       APIConfig
	Ingestion IngestionConfig
	Query     QueryConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	SQLite    SQLiteConfig
	S3        S3Config
	Temporal  TemporalConfig
	Qdrant    QdrantConfig
	Log       LogConfig
}

type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type IngestionConfig struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	MaxFileSize  int64
}

type QueryConfig struct {
	MaxTokens   int
	Temperature float64
	DocumentIDs []string
}

type StorageConfig struct {
	// Backend is one of sqlite, postgres, s3 or memory.
	Backend   string
	Namespace string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type SQLiteConfig struct {
	Path string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

type TemporalConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Namespace string
}

type QdrantConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Collection string
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// Load reads a .env file when one exists and then builds the configuration
// from the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("KB_API_URL", "http://localhost:8080/api/v1"), "/"),
			Token:   getEnv("KB_API_TOKEN", ""),
			Timeout: getEnvAsDuration("KB_API_TIMEOUT", 60*time.Second),
		},
		Ingestion: IngestionConfig{
			PollInterval: getEnvAsDuration("INGESTION_POLL_INTERVAL", 3*time.Second),
			PollTimeout:  getEnvAsDuration("INGESTION_POLL_TIMEOUT", 10*time.Minute),
			MaxFileSize:  int64(getEnvAsInt("INGESTION_MAX_FILE_MB", 50)) << 20,
		},
		Query: QueryConfig{
			MaxTokens:   getEnvAsInt("QUERY_MAX_TOKENS", 0),
			Temperature: getEnvAsFloat("QUERY_TEMPERATURE", 0),
			DocumentIDs: getEnvAsList("QUERY_DOCUMENT_IDS"),
		},
		Storage: StorageConfig{
			Backend:   getEnv("STORAGE_BACKEND", "sqlite"),
			Namespace: getEnv("STORAGE_NAMESPACE", "kb-console"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "kb_console"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SQLite: SQLiteConfig{
			Path: getEnv("SQLITE_PATH", "./data/kb-console.db"),
		},
		S3: S3Config{
			Bucket:    getEnv("S3_BUCKET", "kb-console"),
			Region:    getEnv("S3_REGION", "us-east-1"),
			Endpoint:  getEnv("S3_ENDPOINT", ""),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Prefix:    getEnv("S3_PREFIX", "sessions/"),
		},
		Temporal: TemporalConfig{
			Enabled:   getEnvAsBool("TEMPORAL_ENABLED", false),
			Host:      getEnv("TEMPORAL_HOST", "temporal"),
			Port:      getEnvAsInt("TEMPORAL_PORT", 7233),
			Namespace: getEnv("TEMPORAL_NAMESPACE", "default"),
		},
		Qdrant: QdrantConfig{
			Enabled:    getEnvAsBool("QDRANT_ENABLED", false),
			Host:       getEnv("QDRANT_HOST", "qdrant"),
			Port:       getEnvAsInt("QDRANT_PORT", 6334),
			Collection: getEnv("QDRANT_COLLECTION", "documents"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvAsBool("LOG_PRETTY", true),
		},
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
