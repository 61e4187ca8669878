package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyEnvOverrides_TopLevel(t *testing.T) {
	t.Setenv("XROUTER_HOST", "10.0.0.1")
	t.Setenv("XROUTER_PORT", "9999")
	t.Setenv("XROUTER_BILLING_ENABLED", "yes")
	t.Setenv("XROUTER_OPENAI_COMPATIBLE_API", "1")
	t.Setenv("XROUTER_PROVIDER_TIMEOUT_SECONDS", "45")
	t.Setenv("XROUTER_PROVIDER_MAX_INFLIGHT", "250")
	t.Setenv("XROUTER_GIGACHAT_INSECURE_TLS", "on")
	t.Setenv("XROUTER_OPENROUTER_SUPPORTED_MODELS", "a/b, c/d")

	cfg := Config{Providers: map[string]ProviderConfig{}}
	applyEnvOverrides(&cfg)

	assert.Equal(t, "10.0.0.1", cfg.Host)
	assert.Equal(t, 9999, cfg.Port)
	assert.True(t, cfg.BillingEnabled)
	assert.True(t, cfg.OpenAICompatibleAPI)
	assert.Equal(t, 45, cfg.ProviderTimeoutSeconds)
	assert.Equal(t, int64(250), cfg.ProviderMaxInflight)
	assert.True(t, cfg.GigachatInsecureTLS)
	assert.Equal(t, []string{"a/b", "c/d"}, cfg.OpenRouterSupportedModels)
}

func TestApplyEnvOverrides_PerProvider(t *testing.T) {
	t.Setenv("XROUTER_YANDEX_API_KEY", "env-key")
	t.Setenv("XROUTER_YANDEX_PROJECT", "b1gtest")
	t.Setenv("XROUTER_YANDEX_ENABLED", "false")

	cfg := Config{Providers: map[string]ProviderConfig{}}
	applyEnvOverrides(&cfg)

	yandex := cfg.Providers["yandex"]
	assert.Equal(t, "env-key", yandex.APIKey)
	assert.Equal(t, "b1gtest", yandex.Project)
	assert.False(t, yandex.Enabled)
}

func TestParseModelList(t *testing.T) {
	assert.Equal(t, []string{"a/b", "c/d"}, parseModelList("a/b,c/d"))
	assert.Equal(t, []string{"a/b", "c/d"}, parseModelList(`["a/b", "c/d"]`))
	assert.Nil(t, parseModelList(""))
}

func TestManager_Load_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, DefaultConfigFilename), []byte("host: \"127.0.0.1\"\n"), 0o600))
	os.Unsetenv("XROUTER_HOST")
	t.Setenv("XROUTER_HOST", "192.168.1.1")

	cfg, err := NewManager(tmpDir).Load()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", cfg.Host)
}
