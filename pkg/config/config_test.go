package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/ecf-core/pkg/config"
)

func TestLoad_ValoresPorDefecto(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "ecf-core", cfg.App.Name)
	assert.Equal(t, 3, cfg.Contingency.MaxAttempts)
	assert.Equal(t, "exponential", cfg.Contingency.Backoff)
	assert.Equal(t, 30*time.Second, cfg.Authority.Timeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
}

func TestLoad_EnvTienePrioridad(t *testing.T) {
	t.Setenv("AUTHORITY_TIMEOUT", "5")
	t.Setenv("CONTINGENCY_BASE_DELAY", "250ms")
	t.Setenv("CONTINGENCY_MAX_ATTEMPTS", "5")
	t.Setenv("DB_ENABLED", "false")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Authority.Timeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Contingency.BaseDelay)
	assert.Equal(t, 5, cfg.Contingency.MaxAttempts)
	assert.False(t, cfg.DB.Enabled)
}

func TestLoad_BackoffInvalido(t *testing.T) {
	t.Setenv("CONTINGENCY_BACKOFF", "random")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestDBConfig_DSNEscapaPassword(t *testing.T) {
	c := config.DBConfig{Host: "db", Port: 5432, User: "u", Password: "p@ss/word", DBName: "ecf", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss%2Fword@db:5432/ecf?sslmode=disable", c.ConnectionString())
}
