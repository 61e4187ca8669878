package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/olegische/xrouter-go/internal/dispatcher"
	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/middleware"
)

// Mount registers every route for the configured surface (native or
// OpenAI-compatible per SPEC_FULL §4.6) on mux, wrapped in the given
// middleware chains.
func Mount(mux *http.ServeMux, compatible bool, registry *dispatcher.Registry, billingEnabled bool, billing engine.BillingStage, middlewareSet middleware.MiddlewareSet, logger *slog.Logger) {
	modelsPath, responsesPath, chatPath := "/api/v1/models", "/api/v1/responses", "/api/v1/chat/completions"
	modelsHandler := NativeModelsHandler(registry)
	if compatible {
		modelsPath, responsesPath, chatPath = "/v1/models", "/v1/responses", "/v1/chat/completions"
		modelsHandler = CompatibleModelsHandler(registry)
	}

	mux.Handle("GET /health", middlewareSet.HealthChain().Handler(HealthHandler()))
	mux.Handle("GET "+modelsPath, middlewareSet.DefaultChain().Handler(modelsHandler))
	mux.Handle("POST "+responsesPath, middlewareSet.DefaultChain().Handler(ResponsesHandler(registry, billingEnabled, billing, logger)))
	mux.Handle("POST "+chatPath, middlewareSet.DefaultChain().Handler(ChatCompletionsHandler(registry, billingEnabled, billing, logger)))
}
