// ABOUTME: Tests for configuration loading, env expansion, and validation
// ABOUTME: Covers duration parsing, defaults, and first-failure validation errors

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/interviewd.db", cfg.Database.Path)
	assert.Equal(t, []string{"evolution"}, cfg.Transport.Providers)

	// Defaults
	assert.Equal(t, 3, cfg.Transport.MaxSlots)
	assert.Equal(t, 3*time.Minute, cfg.Transport.PairingTimeout)
	assert.Equal(t, 25*time.Second, cfg.Transport.KeepaliveInterval)
	assert.Equal(t, 5*time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.Transport.RetryDelay)
	assert.Equal(t, 5, cfg.Transport.MaxRetries)
	assert.Equal(t, "pt", cfg.Interview.Language)
	assert.Equal(t, "uploads", cfg.Media.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution, wppconnect]
  pairing_timeout: 90s
  keepalive_interval: 10s
  reconnect_delay: 1s
  retry_delay: 45s
ai:
  request_timeout: 15s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Transport.PairingTimeout)
	assert.Equal(t, 10*time.Second, cfg.Transport.KeepaliveInterval)
	assert.Equal(t, time.Second, cfg.Transport.ReconnectDelay)
	assert.Equal(t, 45*time.Second, cfg.Transport.RetryDelay)
	assert.Equal(t, 15*time.Second, cfg.AI.RequestTimeout)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution]
  pairing_timeout: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pairing_timeout")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_EVOLUTION_KEY", "secret-key-123")

	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution]
  evolution:
    base_url: https://evolution.example.com
    api_key: ${TEST_EVOLUTION_KEY}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-key-123", cfg.Transport.Evolution.APIKey)
}

func TestLoad_UnsetEnvExpandsEmpty(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution]
  evolution:
    api_key: ${DEFINITELY_NOT_SET_VAR_42}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Transport.Evolution.APIKey)
}

func TestValidate_MissingDatabasePath(t *testing.T) {
	path := writeConfig(t, `
transport:
  providers: [evolution]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.path")
}

func TestValidate_NoProviders(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.providers")
}

func TestValidate_UnknownProvider(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [telegraph]
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegraph")
}

func TestValidate_LinkSecretRequiredWithBaseURL(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution]
interview:
  link_base_url: https://interviews.example.com
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "link_secret")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_Templates(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/interviewd.db
transport:
  providers: [evolution]
interview:
  company_name: Acme
  templates:
    greeting: "Olá {{candidate_name}}, vamos começar a entrevista para {{job_title}}."
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme", cfg.Interview.CompanyName)
	assert.Contains(t, cfg.Interview.Templates.Greeting, "{{candidate_name}}")
}
