package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/olegische/xrouter-go/internal/dispatcher"
)

// compatibleModelEntry is the OpenAI-style /v1/models entry.
type compatibleModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type compatibleModelsResponse struct {
	Object string                 `json:"object"`
	Data   []compatibleModelEntry `json:"data"`
}

// xrouterModelArchitecture, xrouterModelTopProvider, and
// xrouterModelPerRequestLimits back the richer /api/v1/models shape
// carried over from the original catalog surface.
type xrouterModelArchitecture struct {
	Modality string `json:"modality"`
}

type xrouterModelTopProvider struct {
	ContextLength       uint32 `json:"context_length"`
	MaxCompletionTokens uint32 `json:"max_completion_tokens"`
	IsModerated         bool   `json:"is_moderated"`
}

type xrouterModelPerRequestLimits struct {
	PromptTokens     uint32 `json:"prompt_tokens"`
	CompletionTokens uint32 `json:"completion_tokens"`
}

type xrouterModelEntry struct {
	ID               string                       `json:"id"`
	Name             string                       `json:"name"`
	Description      string                       `json:"description"`
	ContextLength    uint32                       `json:"context_length"`
	Architecture     xrouterModelArchitecture     `json:"architecture"`
	TopProvider      xrouterModelTopProvider      `json:"top_provider"`
	PerRequestLimits xrouterModelPerRequestLimits `json:"per_request_limits"`
}

type xrouterModelsResponse struct {
	Data []xrouterModelEntry `json:"data"`
}

// modelsCreatedTimestamp matches every entry's reported creation time;
// the catalog doesn't track per-model creation dates.
const modelsCreatedTimestamp int64 = 1_710_979_200

// defaultContextLength and defaultMaxCompletionTokens back any
// descriptor without metadata: one that discovery added from a bare
// /models id, or a GigaChat allowlist entry (the server builds those
// from ids alone). Every seeded descriptor that stays in the catalog
// carries its own real values and never falls back to these.
const (
	defaultContextLength       uint32 = 128_000
	defaultMaxCompletionTokens uint32 = 8_192
)

// CompatibleModelsHandler answers GET /v1/models with the
// OpenAI-compatible catalog projection.
func CompatibleModelsHandler(registry *dispatcher.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		catalog := registry.Catalog()
		data := make([]compatibleModelEntry, 0, len(catalog))
		for _, d := range catalog {
			data = append(data, compatibleModelEntry{
				ID:      d.ID,
				Object:  "model",
				Created: modelsCreatedTimestamp,
				OwnedBy: d.Provider,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(compatibleModelsResponse{Object: "list", Data: data})
	})
}

// NativeModelsHandler answers GET /api/v1/models with the richer
// catalog projection (architecture, top_provider, per_request_limits).
func NativeModelsHandler(registry *dispatcher.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		catalog := registry.Catalog()
		data := make([]xrouterModelEntry, 0, len(catalog))
		for _, d := range catalog {
			contextLength := d.ContextLength
			if contextLength == 0 {
				contextLength = defaultContextLength
			}
			topContextLength := d.TopProviderContextLength
			if topContextLength == 0 {
				topContextLength = contextLength
			}
			maxCompletionTokens := d.MaxCompletionTokens
			if maxCompletionTokens == 0 {
				maxCompletionTokens = defaultMaxCompletionTokens
			}
			modality := d.Modality
			if modality == "" {
				modality = "text->text"
			}
			description := d.Description
			if description == "" {
				description = d.Provider + " model"
			}
			promptTokens := uint32(0)
			if contextLength > 1024 {
				promptTokens = contextLength - 1024
			}

			data = append(data, xrouterModelEntry{
				ID:            d.ID,
				Name:          d.ID,
				Description:   description,
				ContextLength: contextLength,
				Architecture:  xrouterModelArchitecture{Modality: modality},
				TopProvider: xrouterModelTopProvider{
					ContextLength:       topContextLength,
					MaxCompletionTokens: maxCompletionTokens,
					IsModerated:         d.IsModerated,
				},
				PerRequestLimits: xrouterModelPerRequestLimits{
					PromptTokens:     promptTokens,
					CompletionTokens: maxCompletionTokens,
				},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(xrouterModelsResponse{Data: data})
	})
}
