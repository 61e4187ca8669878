package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Load_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg, err := manager.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultProviderTimeoutSeconds, cfg.ProviderTimeoutSeconds)
	assert.Equal(t, int64(DefaultProviderMaxInflight), cfg.ProviderMaxInflight)

	openai, ok := cfg.Providers["openai"]
	require.True(t, ok, "openai should be seeded with a default binding")
	assert.Equal(t, defaultProviderBaseURLs["openai"], openai.BaseURL)
	assert.True(t, openai.Enabled, "providers default to enabled absent an explicit override")
}

func TestManager_Load_ReadsYAMLFile(t *testing.T) {
	tmpDir := t.TempDir()
	yamlConfig := `
host: "127.0.0.1"
port: 9090
api_key: "gateway-key"
billing_enabled: true
providers:
  openrouter:
    enabled: true
    api_key: "or-key"
    base_url: "https://openrouter.ai/api/v1"
  yandex:
    enabled: true
    api_key: "yandex-key"
    project: "b1gabc"
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte(yamlConfig), 0o644))

	cfg, err := NewManager(tmpDir).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "gateway-key", cfg.APIKey)
	assert.True(t, cfg.BillingEnabled)

	yandex := cfg.Providers["yandex"]
	assert.Equal(t, "yandex-key", yandex.APIKey)
	assert.Equal(t, "b1gabc", yandex.Project)
}

func TestManager_Load_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(configPath, []byte("host: [this is not valid"), 0o644))

	_, err := NewManager(tmpDir).Load()
	assert.Error(t, err)
}

func TestManager_Get_WithoutLoad(t *testing.T) {
	tmpDir := t.TempDir()
	manager := NewManager(tmpDir)

	cfg := manager.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultHost, cfg.Host)
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"1": true, "true": true, "Yes": true, "ON": true,
		"0": false, "false": false, "no": false, "off": false,
	}
	for input, want := range cases {
		got, ok := parseBool(input)
		require.True(t, ok, "input %q should parse", input)
		assert.Equal(t, want, got, "input %q", input)
	}

	_, ok := parseBool("maybe")
	assert.False(t, ok, "unrecognized values should not parse")
}
