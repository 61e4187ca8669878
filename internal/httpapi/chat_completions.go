package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/olegische/xrouter-go/internal/dispatcher"
	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/schema"
)

// ChatCompletionsHandler serves POST {prefix}/chat/completions for
// either route set: requests funnel through
// ChatCompletionsRequest.ToResponsesRequest() into the same engine,
// then project back out via ChatCompletionsResponseFromResponses.
func ChatCompletionsHandler(registry *dispatcher.Registry, billingEnabled bool, billing engine.BillingStage, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var chatReq schema.ChatCompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
			writeError(w, engine.ValidationError("malformed request body: %s", err))
			return
		}

		coreReq := chatReq.ToResponsesRequest()

		_, localModel, client, resolveErr := registry.Resolve(coreReq.Model)
		if resolveErr != nil {
			writeError(w, resolveErr)
			return
		}
		coreReq.Model = localModel

		eng := engine.New(client, billingEnabled, billing, logger)

		if !chatReq.Stream {
			resp, err := eng.Execute(r.Context(), coreReq)
			if err != nil {
				writeError(w, err)
				return
			}
			resp.ID = rewriteID(resp.ID, chatIDPrefix)
			chatResp := schema.ChatCompletionsResponseFromResponses(resp)
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(chatResp)
			return
		}

		streamChatCompletions(w, r, eng, coreReq, logger)
	})
}

// streamChatCompletions writes chat.completion.chunk frames per
// delta, then a terminal chunk with finish_reason, then the literal
// [DONE] tail.
func streamChatCompletions(w http.ResponseWriter, r *http.Request, eng *engine.Engine, req schema.ResponsesRequest, logger *slog.Logger) {
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
	for evt := range events {
		id := rewriteID(evt.ID, chatIDPrefix)
		switch evt.Type {
		case schema.EventOutputTextDelta:
			writeChatChunk(w, id, map[string]any{"content": evt.Delta}, nil)
		case schema.EventReasoningDelta:
			writeChatChunk(w, id, map[string]any{"reasoning": evt.Delta}, nil)
		case schema.EventResponseCompleted:
			finishReason := evt.FinishReason
			writeChatChunk(w, id, map[string]any{}, &finishReason)
		case schema.EventResponseError:
			logger.Error("chat completions stream failed", "request_id", id, "error", evt.Message)
			writeSSERaw(w, map[string]any{"id": id, "error": evt.Message})
		}
		flusher.Flush()
	}

	writeSSERaw(w, "[DONE]")
	flusher.Flush()
}

func writeChatChunk(w http.ResponseWriter, id string, delta map[string]any, finishReason *string) {
	choice := map[string]any{"index": 0, "delta": delta, "finish_reason": nil}
	if finishReason != nil {
		choice["finish_reason"] = *finishReason
	}
	writeSSERaw(w, map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"choices": []map[string]any{choice},
	})
}

// writeSSERaw writes one unnamed data: frame. payload may be a
// structured value (JSON-encoded) or the literal string "[DONE]".
func writeSSERaw(w http.ResponseWriter, payload any) {
	if s, ok := payload.(string); ok {
		_, _ = w.Write([]byte("data: " + s + "\n\n"))
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}
