package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	Port        string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	JWTSecret   string
	MongoURI    string
	Environment string

	Provider   ProviderConfig
	MarketData MarketDataConfig
}

// ProviderConfig holds settings for the external market data provider.
type ProviderConfig struct {
	BaseURL          string
	APIKey           string
	RequestTimeoutMS int
}

// MarketDataConfig holds the tuning knobs for the ingestion pipeline.
type MarketDataConfig struct {
	StaleThresholdHours       int
	MinValidPrice             float64
	MaxValidPrice             float64
	SignificantChangePercent  float64
	BatchSize                 int
	APIDelayMS                int
	BatchTimeoutSec           int
	FailureThreshold          int
	QuoteRetryAttempts        int
	HistoricalRetryAttempts   int
	CircuitBreakerTimeoutMins int // accepted for compatibility, the gate itself is threshold-only
}

var AppConfig *Config
var DB *gorm.DB

// LoadConfig loads environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:        getEnv("PORT", "8080"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "investsim_db"),
		JWTSecret:   getEnv("JWT_SECRET", "your-secret-key"),
		MongoURI:    getEnv("MONGO_URI", ""),
		Environment: getEnv("ENVIRONMENT", "development"),
		Provider: ProviderConfig{
			BaseURL:          getEnv("PROVIDER_BASE_URL", "https://finnhub.io/api/v1"),
			APIKey:           getEnv("PROVIDER_API_KEY", ""),
			RequestTimeoutMS: getEnvInt("PROVIDER_TIMEOUT_MS", 30000),
		},
		MarketData: MarketDataConfig{
			StaleThresholdHours:       getEnvInt("MD_STALE_THRESHOLD_HOURS", 24),
			MinValidPrice:             getEnvFloat("MD_MIN_VALID_PRICE", 0.01),
			MaxValidPrice:             getEnvFloat("MD_MAX_VALID_PRICE", 100000),
			SignificantChangePercent:  getEnvFloat("MD_SIGNIFICANT_CHANGE_PCT", 5.0),
			BatchSize:                 getEnvInt("MD_BATCH_SIZE", 50),
			APIDelayMS:                getEnvInt("MD_API_DELAY_MS", 100),
			BatchTimeoutSec:           getEnvInt("MD_BATCH_TIMEOUT_SEC", 30),
			FailureThreshold:          getEnvInt("CB_FAILURE_THRESHOLD", 5),
			QuoteRetryAttempts:        getEnvInt("MD_QUOTE_RETRY_ATTEMPTS", 3),
			HistoricalRetryAttempts:   getEnvInt("MD_HISTORICAL_RETRY_ATTEMPTS", 2),
			CircuitBreakerTimeoutMins: getEnvInt("CB_TIMEOUT_MINUTES", 5),
		},
	}

	AppConfig = config
	return config, nil
}

// InitDB initializes database connection
func InitDB() (*gorm.DB, error) {
	// Log connection info (masked for security)
	log.Printf("Connecting to database: host=%s port=%s user=%s dbname=%s",
		maskHost(AppConfig.DBHost),
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBName,
	)

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=require TimeZone=UTC",
		AppConfig.DBHost,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBPort,
	)

	var logLevel logger.LogLevel
	if AppConfig.Environment == "production" {
		logLevel = logger.Error
	} else {
		logLevel = logger.Info
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})

	if err != nil {
		log.Printf("Database connection error: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection with ping
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Failed to get underlying database: %v", err)
		return nil, fmt.Errorf("failed to get database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		log.Printf("Database ping failed: %v", err)
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	log.Printf("Database connection verified successfully")
	DB = db
	return db, nil
}

// maskHost masks host for logging, preserving domain structure
func maskHost(host string) string {
	if len(host) <= 3 {
		return "***"
	}
	if len(host) <= 15 {
		return host[:3] + "***"
	}
	return host[:8] + "***" + host[len(host)-10:]
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %g", key, value, defaultValue)
		return defaultValue
	}
	return f
}
