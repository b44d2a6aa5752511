package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnv(t *testing.T) {
	t.Setenv("STOCKLEDGER_TEST_VALUE", "set")

	assert.Equal(t, "set", GetEnv("STOCKLEDGER_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnv("STOCKLEDGER_TEST_MISSING", "fallback"))
}

func TestGetEnvironment(t *testing.T) {
	t.Setenv("STOCKLEDGER_SERVER_ENVIRONMENT", "")
	assert.Equal(t, EnvDevelopment, GetEnvironment())

	t.Setenv("STOCKLEDGER_SERVER_ENVIRONMENT", "PRODUCTION")
	assert.Equal(t, EnvProduction, GetEnvironment())
}

func TestIsProductionLike(t *testing.T) {
	assert.True(t, IsProductionLike(EnvProduction))
	assert.True(t, IsProductionLike(EnvStaging))
	assert.False(t, IsProductionLike(EnvDevelopment))
	assert.False(t, IsProductionLike(EnvTest))
}
