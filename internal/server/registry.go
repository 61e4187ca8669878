package server

import (
	"log/slog"
	"time"

	"github.com/olegische/xrouter-go/internal/config"
	"github.com/olegische/xrouter-go/internal/dispatcher"
	"github.com/olegische/xrouter-go/internal/httpruntime"
	"github.com/olegische/xrouter-go/internal/providers"
)

// buildRegistry constructs one ProviderClient per configured provider
// and registers it, then runs best-effort catalog discovery for the
// providers SPEC_FULL §4.1 names (openrouter, zai, yandex).
func buildRegistry(cfg *config.Config, logger *slog.Logger) *dispatcher.Registry {
	registry := dispatcher.NewRegistry()
	registry.SetDefaultProvider("openrouter")

	connectTimeout := time.Duration(cfg.ProviderTimeoutSeconds) * time.Second

	runtimeFor := func(name string, insecureTLS bool) *httpruntime.Runtime {
		return httpruntime.New(httpruntime.Config{
			Provider:       name,
			MaxInflight:    cfg.ProviderMaxInflight,
			ConnectTimeout: connectTimeout,
			InsecureTLS:    insecureTLS,
			Logger:         logger,
		})
	}

	chatCompletionsFamily := []string{"openai", "openrouter", "deepseek", "zai", "xrouter", "ollama"}
	for _, name := range chatCompletionsFamily {
		pc := cfg.Providers[name]
		client := providers.NewOpenAICompatibleClient(name, pc.BaseURL, pc.APIKey, runtimeFor(name, false), logger)
		registry.RegisterProvider(name, client, pc.Enabled)
	}

	yandex := cfg.Providers["yandex"]
	registry.RegisterProvider("yandex",
		providers.NewYandexResponsesClient(yandex.BaseURL, yandex.APIKey, yandex.Project, runtimeFor("yandex", false), logger),
		yandex.Enabled)

	gigachat := cfg.Providers["gigachat"]
	registry.RegisterProvider("gigachat",
		providers.NewGigachatClient(gigachat.BaseURL, gigachat.APIKey, "", cfg.GigachatInsecureTLS, runtimeFor("gigachat", cfg.GigachatInsecureTLS), logger),
		gigachat.Enabled)

	discoverModels(registry, cfg, logger)
	applyGigachatAllowlist(registry, cfg)
	return registry
}

// applyGigachatAllowlist overrides the seeded GigaChat catalog with
// the configured (or built-in default) allowlist. GigaChat has no
// /models endpoint worth discovering against (SPEC_FULL §4.1 names
// only openrouter/zai/yandex for synchronous discovery), so its
// catalog is config-driven rather than discovered.
func applyGigachatAllowlist(registry *dispatcher.Registry, cfg *config.Config) {
	models := cfg.GigachatSupportedModels
	if len(models) == 0 {
		models = dispatcher.DefaultGigachatSupportedModels
	}
	descriptors := make([]dispatcher.ModelDescriptor, 0, len(models))
	for _, id := range models {
		descriptors = append(descriptors, dispatcher.ModelDescriptor{Provider: "gigachat", ID: id})
	}
	registry.MergeCatalog("gigachat", descriptors)
}

// discoverModels runs the startup catalog discovery pass for the
// three providers spec.md §4.1 names. OpenRouter results are filtered
// by the configured allowlist, or by the built-in one when none is
// configured; zai and yandex results are merged without an allowlist.
func discoverModels(registry *dispatcher.Registry, cfg *config.Config, logger *slog.Logger) {
	openrouterAllowlist := cfg.OpenRouterSupportedModels
	if len(openrouterAllowlist) == 0 {
		openrouterAllowlist = dispatcher.DefaultOpenRouterSupportedModels
	}

	targets := []dispatcher.DiscoveryTarget{
		{
			Provider:  "openrouter",
			ModelsURL: cfg.Providers["openrouter"].BaseURL + "/models",
			APIKey:    cfg.Providers["openrouter"].APIKey,
			Allowlist: openrouterAllowlist,
		},
		{
			Provider:  "zai",
			ModelsURL: cfg.Providers["zai"].BaseURL + "/models",
			APIKey:    cfg.Providers["zai"].APIKey,
		},
		{
			Provider:  "yandex",
			ModelsURL: cfg.Providers["yandex"].BaseURL + "/models",
			APIKey:    cfg.Providers["yandex"].APIKey,
		},
	}
	registry.Discover(targets, logger)
}
