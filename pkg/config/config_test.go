package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("NFE_ENV", "dev")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.NFe.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.NFe.BackoffInitial)
	assert.Equal(t, time.Minute, cfg.NFe.BackoffMax)
	assert.Equal(t, 30*time.Second, cfg.NFe.RequestTimeout)
	assert.Equal(t, 4, cfg.NFe.Workers)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_NFeOverrides(t *testing.T) {
	t.Setenv("NFE_ENV", "test")
	t.Setenv("NFE_CERT_PATH", "/certs/a1.pfx")
	t.Setenv("NFE_MAX_RETRIES", "3")
	t.Setenv("NFE_BACKOFF_INITIAL", "500ms")
	t.Setenv("NFE_REQUEST_TIMEOUT", "10")
	t.Setenv("NFE_STRIP_ACCENTS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.NFe.Env)
	assert.Equal(t, 3, cfg.NFe.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.NFe.BackoffInitial)
	assert.Equal(t, 10*time.Second, cfg.NFe.RequestTimeout)
	assert.True(t, cfg.NFe.StripAccents)
}

func TestLoad_ProdSinCertificado(t *testing.T) {
	t.Setenv("NFE_ENV", "prod")
	t.Setenv("NFE_CERT_PATH", "")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NFE_CERT_PATH")
}

func TestLoad_AmbienteInvalido(t *testing.T) {
	t.Setenv("NFE_ENV", "staging")
	_, err := Load()
	require.Error(t, err)
}

func TestDBConfig_DSN(t *testing.T) {
	c := DBConfig{Host: "db", Port: 5432, User: "nfe", Password: "p@ss word", DBName: "nfe", SSLMode: "disable"}
	assert.Equal(t, "postgres://nfe:p%40ss%20word@db:5432/nfe?sslmode=disable", c.DSN())
}
