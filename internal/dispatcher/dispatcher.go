package dispatcher

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/olegische/xrouter-go/internal/engine"
)

// binding pairs a provider's adapter with whether it's enabled in the
// running config. A disabled provider stays in the registry (so
// "unsupported provider" errors can still name it) but never resolves.
type binding struct {
	client  engine.ProviderClient
	enabled bool
}

// Registry resolves a canonical model id to a provider's adapter and
// owns the model catalog returned from the HTTP surface's /models
// routes. Constructed once at startup and read-only afterward.
type Registry struct {
	providers       map[string]*binding
	catalog         []ModelDescriptor
	defaultProvider string
	tokenEncoder    *tiktoken.Tiktoken
}

// NewRegistry builds an empty registry seeded with the built-in
// catalog. Call RegisterProvider for each configured provider, then
// SetDefaultProvider, before resolving any request.
func NewRegistry() *Registry {
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Registry{
		providers:    make(map[string]*binding),
		catalog:      seedCatalog(),
		tokenEncoder: enc,
	}
}

// RegisterProvider adds or updates one provider's binding.
func (r *Registry) RegisterProvider(name string, client engine.ProviderClient, enabled bool) {
	r.providers[name] = &binding{client: client, enabled: enabled}
}

// SetDefaultProvider names the provider used when resolution finds no
// match (step 4 of the algorithm).
func (r *Registry) SetDefaultProvider(name string) {
	r.defaultProvider = name
}

// MergeCatalog replaces or appends discovered descriptors for one
// provider, keeping the seed entries for every other provider intact.
func (r *Registry) MergeCatalog(provider string, descriptors []ModelDescriptor) {
	kept := r.catalog[:0:0]
	for _, d := range r.catalog {
		if d.Provider != provider {
			kept = append(kept, d)
		}
	}
	r.catalog = append(kept, descriptors...)
}

// Catalog returns the full model list for /models projections.
func (r *Registry) Catalog() []ModelDescriptor {
	out := make([]ModelDescriptor, len(r.catalog))
	copy(out, r.catalog)
	return out
}

// defaultProviderName resolves step 4 of the algorithm: the
// configured default if set and enabled, else "openrouter" if
// enabled, else the first enabled provider found.
func (r *Registry) defaultProviderName() string {
	if r.defaultProvider != "" {
		if b, ok := r.providers[r.defaultProvider]; ok && b.enabled {
			return r.defaultProvider
		}
	}
	if b, ok := r.providers["openrouter"]; ok && b.enabled {
		return "openrouter"
	}
	for name, b := range r.providers {
		if b.enabled {
			return name
		}
	}
	return ""
}

// Resolve implements the four-step algorithm from SPEC_FULL §4.1:
// prefix match, bare catalog id, synthetic catalog id, default
// provider. Returns the provider name, the provider-local model id,
// and its bound client.
func (r *Registry) Resolve(model string) (providerName, localModel string, client engine.ProviderClient, err *engine.CoreError) {
	if slash := strings.Index(model, "/"); slash > 0 {
		prefix := model[:slash]
		if b, ok := r.providers[prefix]; ok && b.enabled {
			return prefix, model[slash+1:], b.client, nil
		}
	}

	for _, d := range r.catalog {
		if d.ID == model {
			providerName = d.Provider
			localModel = d.ID
			break
		}
	}
	if providerName == "" {
		for _, d := range r.catalog {
			if d.SyntheticID() == model {
				providerName = d.Provider
				localModel = d.ID
				break
			}
		}
	}
	if providerName == "" {
		providerName = r.defaultProviderName()
		localModel = model
	}

	b, ok := r.providers[providerName]
	if !ok || !b.enabled || b.client == nil {
		return "", "", nil, engine.ValidationError("unsupported provider for model: %s", model)
	}
	return providerName, localModel, b.client, nil
}

// EstimateTokens returns a non-authoritative cl100k_base token estimate
// for text; the engine's own whitespace count in Tokenize (§4.5)
// remains the only value that feeds input_tokens or any invariant.
// No request path calls it, so nothing logs the estimate.
func (r *Registry) EstimateTokens(text string) int {
	if r.tokenEncoder == nil {
		return 0
	}
	return len(r.tokenEncoder.Encode(text, nil, nil))
}
