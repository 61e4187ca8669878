package providers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/httpruntime"
	"github.com/olegische/xrouter-go/internal/schema"
	"github.com/olegische/xrouter-go/internal/sse"
)

// OpenAICompatibleClient is the single adapter shared by the six
// chat-completions-family providers (openai, openrouter, deepseek,
// zai, xrouter, ollama); only the reasoning-hint mapping and default
// base URL differ between them (SPEC_FULL §4.2.1, spec.md §9 note c).
type OpenAICompatibleClient struct {
	provider string
	baseURL  string
	apiKey   string
	runtime  *httpruntime.Runtime
	logger   *slog.Logger
}

// NewOpenAICompatibleClient builds an adapter for one provider id.
func NewOpenAICompatibleClient(provider, baseURL, apiKey string, runtime *httpruntime.Runtime, logger *slog.Logger) *OpenAICompatibleClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAICompatibleClient{provider: provider, baseURL: baseURL, apiKey: apiKey, runtime: runtime, logger: logger}
}

func (c *OpenAICompatibleClient) Name() string { return c.provider }

func (c *OpenAICompatibleClient) Generate(ctx context.Context, req engine.ProviderGenerateRequest) (engine.ProviderOutcome, error) {
	return c.call(ctx, req, "", nil)
}

func (c *OpenAICompatibleClient) GenerateStream(ctx context.Context, req engine.ProviderGenerateStreamRequest) (engine.ProviderOutcome, error) {
	return c.call(ctx, req.ProviderGenerateRequest, req.RequestID, req.Sender)
}

func (c *OpenAICompatibleClient) call(ctx context.Context, req engine.ProviderGenerateRequest, requestID string, sender chan<- schema.ResponseEvent) (engine.ProviderOutcome, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return engine.ProviderOutcome{}, engine.ProviderError("provider base_url is not configured")
	}

	payload := c.buildPayload(req.Model, req.Input, req.Reasoning, req.Tools, req.ToolChoice)
	body, err := json.Marshal(payload)
	if err != nil {
		return engine.ProviderOutcome{}, engine.ProviderError("provider request encode failed: %s", err.Error())
	}

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	resp, cerr := c.runtime.Post(ctx, url, headers, body)
	if cerr != nil {
		return engine.ProviderOutcome{}, cerr
	}
	defer resp.Close()

	if httpruntime.IsJSON(resp.ContentType) {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return engine.ProviderOutcome{}, engine.ProviderError("provider response read failed: %s", readErr.Error())
		}
		return parseChatJSON(data)
	}
	return consumeChatSSE(resp.Body, sender, requestID, c.logger)
}

// buildPayload applies the message/tools normalization shared by the
// family, then the per-provider reasoning-hint mapping.
func (c *OpenAICompatibleClient) buildPayload(model string, input schema.ResponsesInput, reasoning *schema.ReasoningConfig, tools []json.RawMessage, toolChoice json.RawMessage) map[string]any {
	payload := map[string]any{
		"model":    model,
		"messages": buildChatMessages(input),
		"stream":   true,
	}

	normalized := normalizeChatTools(tools)
	if len(normalized.Tools) > 0 {
		payload["tools"] = normalized.Tools
		if choice := normalizeChatToolChoice(toolChoice, true); choice != nil {
			payload["tool_choice"] = choice
		}
	}
	if len(normalized.DroppedKind) > 0 {
		c.logger.Debug("provider.request.tools.dropped", "provider", c.provider, "kinds", normalized.DroppedKind)
	}

	effort := ""
	if reasoning != nil {
		effort = strings.TrimSpace(reasoning.Effort)
	}
	switch c.provider {
	case "openrouter", "xrouter":
		if effort != "" {
			payload["reasoning"] = map[string]string{"effort": effort}
		}
	case "deepseek":
		if model == "deepseek-chat" && effort != "" {
			payload["thinking"] = map[string]string{"type": "enabled"}
		}
	case "zai":
		if effort != "" {
			kind := "enabled"
			if strings.EqualFold(effort, "none") {
				kind = "disabled"
			}
			payload["thinking"] = map[string]string{"type": kind}
		}
	default: // openai, ollama
		if effort != "" {
			mapped := effort
			if strings.EqualFold(effort, "xhigh") {
				mapped = "high"
			}
			payload["reasoning"] = map[string]string{"effort": mapped}
		}
	}

	return payload
}

// parseChatJSON is the non-SSE response fallback (SPEC_FULL §4.2.1):
// used when an upstream ignores "stream":true and answers with a
// single JSON body instead.
func parseChatJSON(data []byte) (engine.ProviderOutcome, error) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content          json.RawMessage   `json:"content"`
				Reasoning        string            `json:"reasoning"`
				ReasoningContent string            `json:"reasoning_content"`
				ReasoningDetails []json.RawMessage `json:"reasoning_details"`
				ToolCalls        []struct {
					ID       string `json:"id"`
					Type     string `json:"type"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			CompletionTokens uint32 `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return engine.ProviderOutcome{}, engine.ProviderError("provider response parse failed: %s", err.Error())
	}
	if len(resp.Choices) == 0 {
		return engine.ProviderOutcome{}, engine.ProviderError("provider returned empty choices")
	}

	msg := resp.Choices[0].Message
	text := extractMessageContent(msg.Content)

	var toolCalls []schema.ToolCall
	for _, tc := range msg.ToolCalls {
		toolCalls = append(toolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.ToolFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	if text == "" && len(toolCalls) == 0 {
		return engine.ProviderOutcome{}, engine.ProviderError("provider returned empty message content")
	}

	outputTokens := uint32(len(strings.Fields(text)))
	if resp.Usage != nil {
		outputTokens = resp.Usage.CompletionTokens
	}

	reasoningText := firstNonEmpty(msg.ReasoningContent, msg.Reasoning, reasoningFromDetails(msg.ReasoningDetails))
	var reasoningPtr *string
	if reasoningText != "" {
		reasoningPtr = &reasoningText
	}

	return engine.ProviderOutcome{
		Chunks:           []string{text},
		OutputTokens:     outputTokens,
		Reasoning:        reasoningPtr,
		ReasoningDetails: msg.ReasoningDetails,
		ToolCalls:        toolCalls,
	}, nil
}

// consumeChatSSE reads a chat-completions-family SSE stream frame by
// frame, live-emitting deltas when sender is non-nil.
func consumeChatSSE(body io.Reader, sender chan<- schema.ResponseEvent, requestID string, logger *slog.Logger) (engine.ProviderOutcome, error) {
	var frames sse.FrameBuffer
	var text, reasoning strings.Builder
	toolAcc := sse.NewToolCallAccumulator()
	var outputTokens uint32
	var hasUsage bool
	sampler := &sse.DebugSampler{}
	live := sender != nil

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range frames.Feed(buf[:n]) {
				consumeChatFrame(frame, sender, requestID, &text, &reasoning, toolAcc, &outputTokens, &hasUsage, sampler, logger, live)
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return engine.ProviderOutcome{}, engine.ProviderError("provider stream read failed: %s", readErr.Error())
		}
	}
	if tail, ok := frames.Flush(); ok {
		consumeChatFrame(tail, sender, requestID, &text, &reasoning, toolAcc, &outputTokens, &hasUsage, sampler, logger, live)
	}

	if text.Len() == 0 && toolAcc.Empty() {
		return engine.ProviderOutcome{}, engine.ProviderError("provider returned empty output")
	}
	if !hasUsage {
		outputTokens = uint32(len(strings.Fields(text.String())))
	}

	var reasoningPtr *string
	if reasoning.Len() > 0 {
		r := reasoning.String()
		reasoningPtr = &r
	}

	return engine.ProviderOutcome{
		Chunks:       []string{text.String()},
		OutputTokens: outputTokens,
		Reasoning:    reasoningPtr,
		ToolCalls:    toolAcc.Finalize(),
		EmittedLive:  live,
	}, nil
}

func consumeChatFrame(
	frame string,
	sender chan<- schema.ResponseEvent,
	requestID string,
	text, reasoning *strings.Builder,
	toolAcc *sse.ToolCallAccumulator,
	outputTokens *uint32,
	hasUsage *bool,
	sampler *sse.DebugSampler,
	logger *slog.Logger,
	live bool,
) {
	data, ok := sse.ExtractData(frame)
	if !ok {
		return
	}
	delta, err := sse.ParseChatCompletionsData(data)
	if err != nil {
		return
	}

	if delta.HasUsage {
		*hasUsage = true
		*outputTokens = delta.OutputTokens
	}
	if delta.Text != "" {
		text.WriteString(delta.Text)
		if live {
			sender <- schema.OutputTextDelta(requestID, delta.Text)
		}
	}
	if delta.Reasoning != "" {
		reasoning.WriteString(delta.Reasoning)
		if live {
			sender <- schema.ReasoningDelta(requestID, delta.Reasoning)
		}
	}
	for _, tc := range delta.ToolCalls {
		toolAcc.Apply(tc)
	}
	if sampler.Sample() {
		logger.Debug("provider.stream.frame", "preview", sse.Preview(data))
	}
}

// firstNonEmpty returns the first non-blank value, matching the
// reasoning_content | reasoning | reasoning_details precedence.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// reasoningFromDetails scans opaque reasoning_details entries for
// reasoning.summary/reasoning.text fields.
func reasoningFromDetails(details []json.RawMessage) string {
	var sb strings.Builder
	for _, raw := range details {
		var entry struct {
			Type    string `json:"type"`
			Summary string `json:"summary"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		switch entry.Type {
		case "reasoning.summary":
			sb.WriteString(entry.Summary)
		case "reasoning.text":
			sb.WriteString(entry.Text)
		}
	}
	return sb.String()
}
