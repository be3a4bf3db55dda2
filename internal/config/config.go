package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Pricing   PricingConfig
	Intake    IntakeConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// PricingConfig holds the PokemonPriceTracker API configuration. An empty
// APIKey disables lookups; staging then falls back to needs-review flags.
type PricingConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// IntakeConfig holds intake business settings
type IntakeConfig struct {
	DefaultOfferPercentage string // parsed as decimal at the boundary
	MappingConflictPolicy  string // "overwrite" or "strict"
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	timeoutSec := 15
	if v := os.Getenv("PRICING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeoutSec = n
		}
	}

	return &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "3001"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "packfresh_intake"),
		},
		Pricing: PricingConfig{
			APIKey:  os.Getenv("PPT_API_KEY"),
			BaseURL: getEnv("PPT_BASE_URL", "https://www.pokemonpricetracker.com/api"),
			Timeout: time.Duration(timeoutSec) * time.Second,
		},
		Intake: IntakeConfig{
			DefaultOfferPercentage: getEnv("DEFAULT_OFFER_PERCENTAGE", "75"),
			MappingConflictPolicy:  getEnv("MAPPING_CONFLICT_POLICY", "overwrite"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
