package dispatcher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// discoveryTimeout bounds every discovery call; a slow or dead /models
// endpoint must never delay service start beyond this.
const discoveryTimeout = 2 * time.Second

// DiscoveryTarget names one provider's /models endpoint and how to
// reconcile its result against the seed catalog.
type DiscoveryTarget struct {
	Provider  string
	ModelsURL string
	APIKey    string
	// Allowlist, when non-empty, intersects discovered ids (openrouter).
	// When empty, discovered ids merge into the seed by id (zai, yandex).
	Allowlist []string
}

type discoveryModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Discover runs a best-effort synchronous discovery call per target
// and merges successful results into the registry's catalog. A failed
// or slow call logs a warning and leaves that provider's seed entries
// untouched, exactly as spec.md requires.
func (r *Registry) Discover(targets []DiscoveryTarget, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().SetTimeout(discoveryTimeout)

	for _, target := range targets {
		descriptors, err := discoverOne(client, target)
		if err != nil {
			logger.Warn("model discovery failed, using seed catalog",
				"provider", target.Provider, "error", err)
			continue
		}
		if len(descriptors) == 0 {
			continue
		}
		r.MergeCatalog(target.Provider, reconcile(r.seedFor(target.Provider), descriptors, target.Allowlist))
	}
}

func (r *Registry) seedFor(provider string) []ModelDescriptor {
	var out []ModelDescriptor
	for _, d := range seedCatalog() {
		if d.Provider == provider {
			out = append(out, d)
		}
	}
	return out
}

func discoverOne(client *resty.Client, target DiscoveryTarget) ([]ModelDescriptor, error) {
	req := client.R().SetResult(&discoveryModelsResponse{})
	if target.APIKey != "" {
		req.SetAuthToken(target.APIKey)
	}
	resp, err := req.Get(target.ModelsURL)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &discoveryStatusError{status: resp.StatusCode()}
	}
	result, ok := resp.Result().(*discoveryModelsResponse)
	if !ok {
		return nil, &discoveryStatusError{status: resp.StatusCode()}
	}

	descriptors := make([]ModelDescriptor, 0, len(result.Data))
	for _, m := range result.Data {
		if m.ID != "" {
			descriptors = append(descriptors, ModelDescriptor{Provider: target.Provider, ID: m.ID})
		}
	}
	return descriptors, nil
}

// reconcile intersects discovered ids with an allowlist when one is
// given, otherwise merges discovered ids into the seed by id,
// preserving any seed entries the discovery call didn't return. A
// discovered id that is already seeded keeps its seed descriptor.
func reconcile(seed, discovered []ModelDescriptor, allowlist []string) []ModelDescriptor {
	seedByID := make(map[string]ModelDescriptor, len(seed))
	for _, s := range seed {
		seedByID[s.ID] = s
	}
	for i, d := range discovered {
		if s, ok := seedByID[d.ID]; ok {
			discovered[i] = s
		}
	}

	if len(allowlist) > 0 {
		allowed := make(map[string]bool, len(allowlist))
		for _, id := range allowlist {
			allowed[id] = true
		}
		var out []ModelDescriptor
		for _, d := range discovered {
			if allowed[d.ID] {
				out = append(out, d)
			}
		}
		if len(out) == 0 {
			return seed
		}
		return out
	}

	seen := make(map[string]bool, len(discovered))
	out := append([]ModelDescriptor{}, discovered...)
	for _, d := range discovered {
		seen[d.ID] = true
	}
	for _, s := range seed {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return out
}

type discoveryStatusError struct {
	status int
}

func (e *discoveryStatusError) Error() string {
	return fmt.Sprintf("discovery returned status %d", e.status)
}
