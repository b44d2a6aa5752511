package config

import (
	"os"
	"strings"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// GetEnv returns the variable's value, or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvironment reads STOCKLEDGER_SERVER_ENVIRONMENT, defaulting to development.
func GetEnvironment() string {
	return strings.ToLower(GetEnv("STOCKLEDGER_SERVER_ENVIRONMENT", EnvDevelopment))
}

// IsProductionLike reports whether env demands explicit configuration.
func IsProductionLike(env string) bool {
	return env == EnvStaging || env == EnvProduction
}
