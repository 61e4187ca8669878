// Package config loads the gateway's configuration from a YAML file,
// then environment overrides, then hard defaults — the teacher's
// layered Manager pattern, generalized to this gateway's field set.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost                   = "0.0.0.0"
	DefaultPort                   = 8080
	DefaultConfigFilename         = "config.yaml"
	DefaultProviderTimeoutSeconds = 60
	DefaultProviderMaxInflight    = 100
)

// ProviderConfig is one provider's enablement and credentials
// (spec.md §6's per-provider `{enabled, api_key, base_url, project}`).
type ProviderConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key,omitempty"`
	BaseURL string `yaml:"base_url,omitempty"`
	Project string `yaml:"project,omitempty"`
}

// Config is the full gateway configuration (spec.md §6, enumerated).
type Config struct {
	Host   string `yaml:"host,omitempty"`
	Port   int    `yaml:"port,omitempty"`
	APIKey string `yaml:"api_key,omitempty"`

	BillingEnabled      bool `yaml:"billing_enabled,omitempty"`
	OpenAICompatibleAPI bool `yaml:"openai_compatible_api,omitempty"`

	ProviderTimeoutSeconds int   `yaml:"provider_timeout_seconds,omitempty"`
	ProviderMaxInflight    int64 `yaml:"provider_max_inflight,omitempty"`

	GigachatInsecureTLS bool `yaml:"gigachat_insecure_tls,omitempty"`

	OpenRouterSupportedModels []string `yaml:"openrouter_supported_models,omitempty"`
	GigachatSupportedModels   []string `yaml:"gigachat_supported_models,omitempty"`

	Providers map[string]ProviderConfig `yaml:"providers,omitempty"`
}

// defaultProviderBaseURLs seeds base_url for every provider id a
// config omits it for.
var defaultProviderBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"openrouter": "https://openrouter.ai/api/v1",
	"deepseek":   "https://api.deepseek.com/v1",
	"zai":        "https://api.z.ai/api/paas/v4",
	"xrouter":    "https://api.xrouter.ai/v1",
	"ollama":     "http://localhost:11434/v1",
	"yandex":     "https://rest-assistant.api.cloud.yandex.net",
	"gigachat":   "https://gigachat.devices.sberbank.ru/api/v1",
}

var knownProviders = []string{"openai", "openrouter", "deepseek", "zai", "xrouter", "ollama", "yandex", "gigachat"}

// Manager holds the most recently loaded Config behind an atomic
// snapshot, matching the teacher's race-free read pattern. No reload
// trigger is wired since no spec operation names one.
type Manager struct {
	baseDir     string
	configPath  string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir, configPath: filepath.Join(baseDir, DefaultConfigFilename)}
}

func (m *Manager) Load() (*Config, error) {
	cfg := Config{Providers: map[string]ProviderConfig{}}

	if _, err := os.Stat(m.configPath); err == nil {
		data, readErr := os.ReadFile(m.configPath)
		if readErr != nil {
			return nil, fmt.Errorf("read config file: %w", readErr)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}
	cfg, err := m.Load()
	if err != nil {
		fallback := Config{Host: DefaultHost, Port: DefaultPort}
		applyDefaults(&fallback)
		return &fallback
	}
	return cfg
}

// applyEnvOverrides layers XROUTER_* environment variables over the
// file-loaded config, using parseBool for every boolean field.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("XROUTER_HOST"); ok {
		cfg.Host = v
	}
	if v, ok := os.LookupEnv("XROUTER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v, ok := os.LookupEnv("XROUTER_API_KEY"); ok {
		cfg.APIKey = v
	}
	if v, ok := os.LookupEnv("XROUTER_BILLING_ENABLED"); ok {
		if b, ok := parseBool(v); ok {
			cfg.BillingEnabled = b
		}
	}
	if v, ok := os.LookupEnv("XROUTER_OPENAI_COMPATIBLE_API"); ok {
		if b, ok := parseBool(v); ok {
			cfg.OpenAICompatibleAPI = b
		}
	}
	if v, ok := os.LookupEnv("XROUTER_PROVIDER_TIMEOUT_SECONDS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProviderTimeoutSeconds = n
		}
	}
	if v, ok := os.LookupEnv("XROUTER_PROVIDER_MAX_INFLIGHT"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.ProviderMaxInflight = n
		}
	}
	if v, ok := os.LookupEnv("XROUTER_GIGACHAT_INSECURE_TLS"); ok {
		if b, ok := parseBool(v); ok {
			cfg.GigachatInsecureTLS = b
		}
	}
	if v, ok := os.LookupEnv("XROUTER_OPENROUTER_SUPPORTED_MODELS"); ok {
		cfg.OpenRouterSupportedModels = parseModelList(v)
	}
	if v, ok := os.LookupEnv("XROUTER_GIGACHAT_SUPPORTED_MODELS"); ok {
		cfg.GigachatSupportedModels = parseModelList(v)
	}

	for _, name := range knownProviders {
		prefix := "XROUTER_" + strings.ToUpper(name) + "_"
		pc := cfg.Providers[name]
		changed := false
		if v, ok := os.LookupEnv(prefix + "API_KEY"); ok {
			pc.APIKey = v
			changed = true
		}
		if v, ok := os.LookupEnv(prefix + "BASE_URL"); ok {
			pc.BaseURL = v
			changed = true
		}
		if v, ok := os.LookupEnv(prefix + "PROJECT"); ok {
			pc.Project = v
			changed = true
		}
		if v, ok := os.LookupEnv(prefix + "ENABLED"); ok {
			if b, ok := parseBool(v); ok {
				pc.Enabled = b
				changed = true
			}
		}
		if changed {
			cfg.Providers[name] = pc
		}
	}
}

// applyDefaults fills in hard defaults: host/port/timeout/inflight and
// per-provider base URLs. The two supported-model allowlists are left
// empty when unset; the registry builder substitutes the dispatcher's
// built-in lists for them.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ProviderTimeoutSeconds == 0 {
		cfg.ProviderTimeoutSeconds = DefaultProviderTimeoutSeconds
	}
	if cfg.ProviderMaxInflight == 0 {
		cfg.ProviderMaxInflight = DefaultProviderMaxInflight
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	for _, name := range knownProviders {
		pc, ok := cfg.Providers[name]
		if !ok {
			pc = ProviderConfig{Enabled: true}
		}
		if pc.BaseURL == "" {
			pc.BaseURL = defaultProviderBaseURLs[name]
		}
		cfg.Providers[name] = pc
	}
}

// parseBool implements spec.md §6's shared truthy parser:
// {1|true|yes|on} / {0|false|no|off}, case-insensitive.
func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

// parseModelList accepts a JSON array or a comma-separated list.
func parseModelList(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var list []string
		if err := yaml.Unmarshal([]byte(trimmed), &list); err == nil {
			return list
		}
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
