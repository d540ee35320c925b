package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	Storage   StorageConfig
	Ingestion IngestionConfig
	Server    ServerConfig
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type        string // "postgresql", "mongodb", "dynamodb", "memory"
	PostgresURI string
	MongoDBURI  string
	MongoDBName string
	Region      string // For AWS DynamoDB
	TableName   string
	Endpoint    string // Custom endpoint for local testing
}

// IngestionConfig holds ingestion-related configuration
type IngestionConfig struct {
	NewsAPIEndpoint  string
	NewsAPIKey       string
	NewsQuery        string
	OpenDataEndpoint string
	DaysBack         int
	RecordLimit      int
	Interval         time.Duration
	Timeout          time.Duration
	RetryCount       int
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Type:        getEnv("STORAGE_TYPE", "postgresql"),
			PostgresURI: getEnv("DATABASE_URI", "postgres://localhost:5432/crime_data?sslmode=disable"),
			MongoDBURI:  getEnv("MONGODB_URI", ""),
			MongoDBName: getEnv("MONGODB_DATABASE", "crime_data"),
			Region:      getEnv("AWS_REGION", "us-west-2"),
			TableName:   getEnv("TABLE_NAME", "incidents"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""), // For local DynamoDB
		},
		Ingestion: IngestionConfig{
			NewsAPIEndpoint:  getEnv("NEWS_API_ENDPOINT", "https://newsapi.org/v2/everything"),
			NewsAPIKey:       getEnv("NEWS_API_KEY", ""),
			NewsQuery:        getEnv("NEWS_QUERY", "(crime OR shooting OR murder OR theft) AND (police OR arrest)"),
			OpenDataEndpoint: getEnv("OPEN_DATA_ENDPOINT", "https://data.cityofchicago.org/resource/crimes.json"),
			DaysBack:         getEnvInt("DAYS_BACK", 1),
			RecordLimit:      getEnvInt("RECORD_LIMIT", 100),
			Interval:         getEnvDuration("INGESTION_INTERVAL", 6*time.Hour),
			Timeout:          getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
			RetryCount:       getEnvInt("RETRY_COUNT", 3),
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
