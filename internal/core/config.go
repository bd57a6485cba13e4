package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// Environment (development, production)
	Environment string

	// Server listening address
	ListenAddr string

	// Base URL for constructing absolute URLs
	BaseURL string

	// CORS allowed origins
	CORSOrigins []string

	// Default post-login destination when relay state carries none
	FrontendURL string

	// Symmetric secret for signing session tokens
	JWTSecret string

	// Session token lifetime
	TokenTTL time.Duration

	// Identity provider endpoints
	IdPSignOnURL  string
	IdPSignOutURL string
	IdPTokenURL   string

	// PEM or DER certificate used to verify assertion signatures.
	// Empty disables signature verification (development only).
	IdPCertPath string

	// Timeout for network calls to the identity provider
	IdPTimeout time.Duration

	// Redis connection URL for the shared revocation registry.
	// Empty falls back to the in-process registry.
	RedisURL string

	// Directory for the SQLite user database
	DataDir string

	// Enable debug logging
	Debug bool
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() *Config {
	cfg := &Config{
		Environment:   getEnv("PECHA_AUTH_ENV", "development"),
		ListenAddr:    getEnv("PECHA_AUTH_LISTEN_ADDR", ":8080"),
		BaseURL:       getEnv("PECHA_AUTH_BASE_URL", "http://localhost:8080"),
		CORSOrigins:   getEnvList("PECHA_AUTH_CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		FrontendURL:   getEnv("PECHA_AUTH_FRONTEND_URL", "http://localhost:3000"),
		JWTSecret:     getEnv("PECHA_AUTH_JWT_SECRET", ""),
		TokenTTL:      time.Duration(getEnvInt("PECHA_AUTH_TOKEN_TTL_MINUTES", 60)) * time.Minute,
		IdPSignOnURL:  getEnv("PECHA_AUTH_IDP_SIGN_ON_URL", ""),
		IdPSignOutURL: getEnv("PECHA_AUTH_IDP_SIGN_OUT_URL", ""),
		IdPTokenURL:   getEnv("PECHA_AUTH_IDP_TOKEN_URL", ""),
		IdPCertPath:   getEnv("PECHA_AUTH_IDP_CERT_PATH", ""),
		IdPTimeout:    time.Duration(getEnvInt("PECHA_AUTH_IDP_TIMEOUT_SECONDS", 10)) * time.Second,
		RedisURL:      getEnv("PECHA_AUTH_REDIS_URL", ""),
		DataDir:       getEnv("PECHA_AUTH_DATA_DIR", "./data"),
		Debug:         getEnvBool("PECHA_AUTH_DEBUG", false),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Validate checks that the settings a deployment cannot run without are
// present. Development mode is exempt so the service can start with
// nothing configured.
func (c *Config) Validate() error {
	if c.IsDevelopment() {
		return nil
	}

	required := []struct {
		value string
		name  string
	}{
		{c.JWTSecret, "PECHA_AUTH_JWT_SECRET"},
		{c.IdPCertPath, "PECHA_AUTH_IDP_CERT_PATH"},
		{c.IdPSignOnURL, "PECHA_AUTH_IDP_SIGN_ON_URL"},
		{c.IdPSignOutURL, "PECHA_AUTH_IDP_SIGN_OUT_URL"},
	}
	for _, req := range required {
		if req.value == "" {
			return fmt.Errorf("%s is required outside development", req.name)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.ToLower(value) == "true" || value == "1"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}
