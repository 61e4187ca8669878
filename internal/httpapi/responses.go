package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/olegische/xrouter-go/internal/dispatcher"
	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/schema"
)

// ResponsesHandler serves POST {prefix}/responses for either route
// set; the route prefix plays no part in the handler, which needs
// only the registry and a billing stage to build a fresh Engine per
// request.
func ResponsesHandler(registry *dispatcher.Registry, billingEnabled bool, billing engine.BillingStage, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req schema.ResponsesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, engine.ValidationError("malformed request body: %s", err))
			return
		}

		_, localModel, client, resolveErr := registry.Resolve(req.Model)
		if resolveErr != nil {
			writeError(w, resolveErr)
			return
		}
		req.Model = localModel

		eng := engine.New(client, billingEnabled, billing, logger)

		if !req.Stream {
			resp, err := eng.Execute(r.Context(), req)
			if err != nil {
				writeError(w, err)
				return
			}
			resp.ID = rewriteID(resp.ID, responsesIDPrefix)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(resp)
			return
		}

		streamResponses(w, r, eng, req, logger)
	})
}

// streamResponses writes the Responses SSE stream: a bootstrap
// response.created event, one event per delta, then exactly one
// terminal response.completed or response.error event. No [DONE]
// marker is ever written on this surface.
func streamResponses(w http.ResponseWriter, r *http.Request, eng *engine.Engine, req schema.ResponsesRequest, logger *slog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, engine.ProviderError("streaming unsupported by response writer"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events := eng.ExecuteStream(r.Context(), req, nil)

	bootstrapped := false
	for evt := range events {
		id := rewriteID(evt.ID, responsesIDPrefix)
		if !bootstrapped {
			writeSSEEvent(w, "response.created", map[string]any{
				"type": "response.created",
				"response": map[string]any{
					"id":     id,
					"object": "response",
					"status": "in_progress",
					"model":  req.Model,
					"output": []schema.ResponseOutputItem{},
				},
			})
			flusher.Flush()
			bootstrapped = true
		}
		switch evt.Type {
		case schema.EventOutputTextDelta:
			writeSSEEvent(w, "response.output_text.delta", map[string]any{
				"type":          "response.output_text.delta",
				"output_index":  0,
				"item_id":       id,
				"content_index": 0,
				"delta":         evt.Delta,
			})
		case schema.EventReasoningDelta:
			writeSSEEvent(w, "response.reasoning.delta", map[string]any{
				"type":          "response.reasoning.delta",
				"output_index":  0,
				"item_id":       id,
				"content_index": 0,
				"delta":         evt.Delta,
			})
		case schema.EventResponseCompleted:
			writeSSEEvent(w, "response.completed", map[string]any{
				"type": "response.completed",
				"response": map[string]any{
					"id":            id,
					"status":        "completed",
					"output":        evt.Output,
					"finish_reason": evt.FinishReason,
					"usage":         evt.Usage,
				},
			})
		case schema.EventResponseError:
			logger.Error("responses stream failed", "request_id", id, "error", evt.Message)
			writeSSEEvent(w, "response.error", map[string]any{
				"type":  "response.error",
				"error": evt.Message,
			})
		}
		flusher.Flush()
	}
}

// writeSSEEvent writes one named SSE frame; callers own flushing.
func writeSSEEvent(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", event, data)
	_ = bw.Flush()
}
