package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_DefaultsFromEnvOnly(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TENANT_CREDENTIALS_KEY", "test-key")

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, int32(5), cfg.Pool.MaxConnsPerTenant)
	assert.Equal(t, 60, cfg.Pool.AcquireTimeoutSeconds)
	assert.Equal(t, 300, cfg.Search.CacheTTLSeconds)
	assert.Equal(t, 10, cfg.Search.MaxSuggestions)
	assert.False(t, cfg.Advisor.IsConfigured())
}

func TestLoad_RequiresCredentialsKey(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("TENANT_CREDENTIALS_KEY", "")

	_, err := Load("test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TENANT_CREDENTIALS_KEY")
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	doc := map[string]any{
		"port": "9000",
		"redis": map[string]any{
			"host": "cache.internal",
			"port": 6380,
		},
		"search": map[string]any{
			"cache_ttl_seconds": 120,
		},
	}
	raw, err := yaml.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), raw, 0o600))

	t.Setenv("TENANT_CREDENTIALS_KEY", "test-key")
	t.Setenv("PORT", "9001") // env wins over YAML

	cfg, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, "9001", cfg.Port)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.Addr())
	assert.Equal(t, 120, cfg.Search.CacheTTLSeconds)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	c := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "fedsearch",
		Password: "pw", Database: "fedsearch_engine", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=fedsearch password=pw dbname=fedsearch_engine sslmode=disable",
		c.ConnectionString())
}
