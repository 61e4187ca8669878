package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegische/xrouter-go/internal/dispatcher"
	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/schema"
)

// mockProviderClient echoes "[<name>] <input>" and reports an output
// token count equal to the input's own word count, matching the
// fixture used across these scenarios.
type mockProviderClient struct {
	name string
}

func (m mockProviderClient) Name() string { return m.name }

func (m mockProviderClient) Generate(ctx context.Context, req engine.ProviderGenerateRequest) (engine.ProviderOutcome, error) {
	text := "[" + m.name + "] " + req.Input.ToCanonicalText()
	return engine.ProviderOutcome{
		Chunks:       []string{text},
		OutputTokens: uint32(len(strings.Fields(req.Input.ToCanonicalText()))),
	}, nil
}

func (m mockProviderClient) GenerateStream(ctx context.Context, req engine.ProviderGenerateStreamRequest) (engine.ProviderOutcome, error) {
	text := "[" + m.name + "] " + req.Input.ToCanonicalText()
	req.Sender <- schema.OutputTextDelta(req.RequestID, text)
	return engine.ProviderOutcome{
		Chunks:       []string{text},
		OutputTokens: uint32(len(strings.Fields(req.Input.ToCanonicalText()))),
		EmittedLive:  true,
	}, nil
}

// toolCallProviderClient answers Generate with the request's own
// canonical input text, so a TOOL_CALL marker in the input exercises
// the engine's fallback regex recovery; GenerateStream returns an
// empty outcome.
type toolCallProviderClient struct{}

func (toolCallProviderClient) Name() string { return "deepseek" }

func (toolCallProviderClient) Generate(ctx context.Context, req engine.ProviderGenerateRequest) (engine.ProviderOutcome, error) {
	return engine.ProviderOutcome{Chunks: []string{req.Input.ToCanonicalText()}}, nil
}

func (toolCallProviderClient) GenerateStream(ctx context.Context, req engine.ProviderGenerateStreamRequest) (engine.ProviderOutcome, error) {
	return engine.ProviderOutcome{}, nil
}

func newTestRegistry(name string, client engine.ProviderClient) *dispatcher.Registry {
	registry := dispatcher.NewRegistry()
	registry.RegisterProvider(name, client, true)
	registry.SetDefaultProvider(name)
	return registry
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Scenario 1: non-streaming Responses call against a mock provider.
func TestResponsesHandler_NonStreaming(t *testing.T) {
	registry := newTestRegistry("openrouter", mockProviderClient{name: "openrouter"})
	handler := ResponsesHandler(registry, false, engine.NoopBillingStage{}, testLogger())

	body := `{"model":"openrouter/anthropic/claude-3.5-sonnet","input":"hello world","stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/responses", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp schema.ResponsesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Status)
	assert.True(t, strings.HasPrefix(resp.ID, responsesIDPrefix))
	require.Len(t, resp.Output, 1)
	require.Len(t, resp.Output[0].Content, 1)
	assert.Equal(t, "[openrouter] hello world", resp.Output[0].Content[0].Text)
	assert.Equal(t, uint32(4), resp.Usage.TotalTokens)
}

// Scenario 2: empty input is rejected with a validation error.
func TestResponsesHandler_EmptyInput(t *testing.T) {
	registry := newTestRegistry("openrouter", mockProviderClient{name: "openrouter"})
	handler := ResponsesHandler(registry, false, engine.NoopBillingStage{}, testLogger())

	body := `{"model":"gpt-4.1-mini","input":"","stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/responses", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body2 errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body2))
	assert.Equal(t, "validation failed: input must not be empty", body2.Error)
}

// Scenario 3: a chat-completions request whose content carries a
// TOOL_CALL marker recovers a structured tool call via the engine's
// fallback regex.
func TestChatCompletionsHandler_ToolCallFallback(t *testing.T) {
	registry := newTestRegistry("deepseek", toolCallProviderClient{})
	handler := ChatCompletionsHandler(registry, false, engine.NoopBillingStage{}, testLogger())

	body := `{"model":"deepseek/deepseek-chat","messages":[{"role":"user","content":"TOOL_CALL:get_weather:{\"location\":\"New York\"}"}],"stream":false}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp schema.ChatCompletionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "tool_calls", resp.Choices[0].FinishReason)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.True(t, strings.HasPrefix(resp.Choices[0].Message.ToolCalls[0].ID, "call_"))
	assert.Equal(t, "get_weather", resp.Choices[0].Message.ToolCalls[0].Function.Name)
}

// Scenario 4: a streaming Responses call produces response.created
// and response.completed events and never a [DONE] marker.
func TestResponsesHandler_Streaming(t *testing.T) {
	registry := newTestRegistry("openrouter", mockProviderClient{name: "openrouter"})
	handler := ResponsesHandler(registry, false, engine.NoopBillingStage{}, testLogger())

	body := `{"model":"gpt-4.1-mini","input":"hello world","stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/responses", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.Contains(t, out, "response.created")
	assert.Contains(t, out, "response.completed")
	assert.NotContains(t, out, "[DONE]")
}

// Scenario: streaming chat completions always ends with a literal
// [DONE] tail frame.
func TestChatCompletionsHandler_StreamingEndsWithDone(t *testing.T) {
	registry := newTestRegistry("openrouter", mockProviderClient{name: "openrouter"})
	handler := ChatCompletionsHandler(registry, false, engine.NoopBillingStage{}, testLogger())

	body := `{"model":"gpt-4.1-mini","messages":[{"role":"user","content":"hello"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	lines := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var last string
	for lines.Scan() {
		if line := strings.TrimSpace(lines.Text()); line != "" {
			last = line
		}
	}
	assert.Equal(t, "data: [DONE]", last)
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	HealthHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestModelsHandlers(t *testing.T) {
	registry := dispatcher.NewRegistry()

	rec := httptest.NewRecorder()
	CompatibleModelsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var compatible compatibleModelsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &compatible))
	assert.Equal(t, "list", compatible.Object)
	assert.NotEmpty(t, compatible.Data)

	rec2 := httptest.NewRecorder()
	NativeModelsHandler(registry).ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/v1/models", nil))
	require.Equal(t, http.StatusOK, rec2.Code)
	var native xrouterModelsResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &native))
	assert.NotEmpty(t, native.Data)
	assert.Equal(t, "text->text", native.Data[0].Architecture.Modality)
}

func TestRewriteID(t *testing.T) {
	assert.Equal(t, "resp_abc", rewriteID("req_abc", responsesIDPrefix))
	assert.Equal(t, "chatcmpl_abc", rewriteID("abc", chatIDPrefix))
}
