package providers

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/httpruntime"
	"github.com/olegische/xrouter-go/internal/schema"
	"github.com/olegische/xrouter-go/internal/sse"
)

const (
	gigachatOAuthURL            = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	gigachatDefaultScope        = "GIGACHAT_API_PERS"
	gigachatTokenRefreshBufferMs = 60_000
)

type gigachatToken struct {
	accessToken string
	expiresAtMs int64
}

// GigachatClient speaks GigaChat's chat-completions variant: an OAuth
// bootstrap ahead of every call and a legacy functions/function_call
// tool dialect instead of tools/tool_choice (SPEC_FULL §4.2.3).
type GigachatClient struct {
	baseURL          string
	authorizationKey string
	scope            string
	runtime          *httpruntime.Runtime
	oauthClient      *resty.Client
	logger           *slog.Logger

	mu    sync.Mutex
	token *gigachatToken
}

func NewGigachatClient(baseURL, authorizationKey, scope string, insecureTLS bool, runtime *httpruntime.Runtime, logger *slog.Logger) *GigachatClient {
	if scope == "" {
		scope = gigachatDefaultScope
	}
	if logger == nil {
		logger = slog.Default()
	}
	oauthClient := resty.New().SetTimeout(15 * time.Second)
	if insecureTLS {
		oauthClient.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &GigachatClient{
		baseURL: baseURL, authorizationKey: authorizationKey, scope: scope,
		runtime: runtime, oauthClient: oauthClient, logger: logger,
	}
}

func (c *GigachatClient) Name() string { return "gigachat" }

func (c *GigachatClient) Generate(ctx context.Context, req engine.ProviderGenerateRequest) (engine.ProviderOutcome, error) {
	return c.call(ctx, req, "", nil)
}

func (c *GigachatClient) GenerateStream(ctx context.Context, req engine.ProviderGenerateStreamRequest) (engine.ProviderOutcome, error) {
	return c.call(ctx, req.ProviderGenerateRequest, req.RequestID, req.Sender)
}

// accessToken refreshes the cached OAuth token when absent or within
// the 60-second safety buffer of expiry; the mutex is held only
// across the refresh, never across the chat call itself.
func (c *GigachatClient) accessToken(ctx context.Context) (string, *engine.CoreError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixMilli()
	if c.token != nil && c.token.expiresAtMs > now+gigachatTokenRefreshBufferMs {
		return c.token.accessToken, nil
	}
	if strings.TrimSpace(c.authorizationKey) == "" {
		return "", engine.ProviderError("provider api_key is not configured for gigachat")
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	resp, err := c.oauthClient.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.authorizationKey).
		SetHeader("RqUID", uuid.New().String()).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{"scope": c.scope}).
		SetResult(&result).
		Post(gigachatOAuthURL)
	if err != nil {
		return "", engine.ProviderError("gigachat oauth request failed: %s", err.Error())
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", engine.ProviderError("gigachat oauth returned status %d", resp.StatusCode())
	}

	c.token = &gigachatToken{accessToken: result.AccessToken, expiresAtMs: result.ExpiresAt}
	return c.token.accessToken, nil
}

func (c *GigachatClient) call(ctx context.Context, req engine.ProviderGenerateRequest, requestID string, sender chan<- schema.ResponseEvent) (engine.ProviderOutcome, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return engine.ProviderOutcome{}, engine.ProviderError("provider base_url is not configured")
	}
	token, cerr := c.accessToken(ctx)
	if cerr != nil {
		return engine.ProviderOutcome{}, cerr
	}

	payload := buildGigachatPayload(req.Model, req.Input, req.Tools, req.ToolChoice)
	body, err := json.Marshal(payload)
	if err != nil {
		return engine.ProviderOutcome{}, engine.ProviderError("provider request encode failed: %s", err.Error())
	}

	url := strings.TrimRight(c.baseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + token}

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
		return parseGigachatJSON(data)
	}
	return consumeGigachatSSE(resp.Body, sender, requestID, c.logger)
}

type gigachatMessage struct {
	Role             string                `json:"role"`
	Content          string                `json:"content"`
	Name             string                `json:"name,omitempty"`
	FunctionCall     *gigachatFunctionCall `json:"function_call,omitempty"`
	FunctionsStateID string                `json:"functions_state_id,omitempty"`
}

type gigachatFunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// buildGigachatMessages merges system/developer messages into a
// single leading system message, rewrites function_call/
// function_call_output items into GigaChat's dialect, and drops every
// empty assistant message as well as any assistant message sitting
// between a function_call and its matching output (SPEC_FULL §4.2.3).
func buildGigachatMessages(input schema.ResponsesInput) []gigachatMessage {
	if input.IsText() {
		return []gigachatMessage{{Role: "user", Content: input.Text}}
	}

	items := input.Items
	filtered := make([]schema.ResponseInputItem, 0, len(items))
	for i, item := range items {
		if isEmptyAssistantMessage(item) {
			continue
		}
		if isDroppableAssistantPreamble(items, i) {
			continue
		}
		filtered = append(filtered, item)
	}

	names := map[string]string{}
	for _, item := range filtered {
		if item.Kind == "function_call" && item.CallID != "" {
			names[item.CallID] = item.Name
		}
	}

	var systemParts []string
	messages := make([]gigachatMessage, 0, len(filtered))
	for _, item := range filtered {
		switch item.Kind {
		case "function_call":
			args := json.RawMessage(item.Arguments)
			if !json.Valid(args) {
				encoded, _ := json.Marshal(item.Arguments)
				args = encoded
			}
			messages = append(messages, gigachatMessage{
				Role:             "assistant",
				Content:          "",
				FunctionCall:     &gigachatFunctionCall{Name: item.Name, Arguments: args},
				FunctionsStateID: item.CallID,
			})
		case "function_call_output":
			name := item.Name
			if name == "" {
				name = names[item.CallID]
			}
			messages = append(messages, gigachatMessage{
				Role:    "function",
				Name:    name,
				Content: gigachatFunctionContent(item.Output),
			})
		default:
			role := item.Role
			text := item.ExtractText()
			if role == "system" || role == "developer" {
				if strings.TrimSpace(text) != "" {
					systemParts = append(systemParts, text)
				}
				continue
			}
			if role == "" {
				role = "user"
			}
			messages = append(messages, gigachatMessage{Role: role, Content: text})
		}
	}

	if len(systemParts) > 0 {
		messages = append([]gigachatMessage{{Role: "system", Content: strings.Join(systemParts, "\n\n")}}, messages...)
	}
	return messages
}

func gigachatFunctionContent(output string) string {
	if json.Valid([]byte(output)) {
		return output
	}
	wrapped, _ := json.Marshal(map[string]string{"result": output})
	return string(wrapped)
}

type gigachatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

func normalizeGigachatTools(tools []json.RawMessage) []gigachatFunction {
	var out []gigachatFunction
	for _, raw := range tools {
		var probe struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
			Function    *struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
			} `json:"function"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		name, desc, params := probe.Name, probe.Description, probe.Parameters
		if probe.Function != nil {
			name, desc, params = probe.Function.Name, probe.Function.Description, probe.Function.Parameters
		}
		if strings.TrimSpace(name) == "" {
			continue
		}
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, gigachatFunction{Name: name, Description: desc, Parameters: params})
	}
	return out
}

// normalizeGigachatFunctionCall maps tool_choice into GigaChat's
// function_call field: required/any collapse to auto, since GigaChat
// has no forced-call equivalent.
func normalizeGigachatFunctionCall(choice json.RawMessage, hasFunctions bool) json.RawMessage {
	if !hasFunctions || len(choice) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(choice, &str); err == nil {
		switch str {
		case "auto", "none":
			return choice
		case "required", "any":
			return json.RawMessage(`"auto"`)
		}
		return nil
	}
	var obj struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Function *struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(choice, &obj); err != nil {
		return nil
	}
	name := obj.Name
	if obj.Function != nil && obj.Function.Name != "" {
		name = obj.Function.Name
	}
	if strings.TrimSpace(name) == "" {
		return nil
	}
	out, _ := json.Marshal(map[string]string{"name": name})
	return out
}

func buildGigachatPayload(model string, input schema.ResponsesInput, tools []json.RawMessage, toolChoice json.RawMessage) map[string]any {
	payload := map[string]any{
		"model":    model,
		"messages": buildGigachatMessages(input),
		"stream":   true,
	}
	functions := normalizeGigachatTools(tools)
	if len(functions) > 0 {
		payload["functions"] = functions
		if choice := normalizeGigachatFunctionCall(toolChoice, true); choice != nil {
			payload["function_call"] = choice
		}
	}
	return payload
}

type gigachatMessageWire struct {
	Content          json.RawMessage `json:"content"`
	FunctionsStateID string          `json:"functions_state_id"`
	FunctionCall     *struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function_call"`
	ToolCalls []struct {
		ID       string `json:"id"`
		Function struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		} `json:"function"`
	} `json:"tool_calls"`
}

// gigachatToolCalls accepts both OpenAI-style tool_calls and the
// legacy function_call+functions_state_id shape, deduplicating by
// name+arguments.
func gigachatToolCalls(msg gigachatMessageWire) []schema.ToolCall {
	seen := map[string]bool{}
	var out []schema.ToolCall
	for _, tc := range msg.ToolCalls {
		key := tc.Function.Name + "|" + tc.Function.Arguments
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, schema.ToolCall{
			ID: tc.ID, Type: "function",
			Function: schema.ToolFunction{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	if msg.FunctionCall != nil {
		key := msg.FunctionCall.Name + "|" + msg.FunctionCall.Arguments
		if !seen[key] {
			id := msg.FunctionsStateID
			if id == "" {
				id = "call_" + uuid.New().String()
			}
			out = append(out, schema.ToolCall{
				ID: id, Type: "function",
				Function: schema.ToolFunction{Name: msg.FunctionCall.Name, Arguments: msg.FunctionCall.Arguments},
			})
		}
	}
	return out
}

func parseGigachatJSON(data []byte) (engine.ProviderOutcome, error) {
	var resp struct {
		Choices []struct {
			Message gigachatMessageWire `json:"message"`
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
	toolCalls := gigachatToolCalls(msg)
	if text == "" && len(toolCalls) == 0 {
		return engine.ProviderOutcome{}, engine.ProviderError("provider returned empty message content")
	}

	outputTokens := uint32(len(strings.Fields(text)))
	if resp.Usage != nil {
		outputTokens = resp.Usage.CompletionTokens
	}

	return engine.ProviderOutcome{
		Chunks:       []string{text},
		OutputTokens: outputTokens,
		ToolCalls:    toolCalls,
	}, nil
}

// consumeGigachatSSE reuses the chat-completions-family SSE parser
// for content/reasoning/tool_calls deltas, additionally scanning each
// frame for the legacy delta.function_call field that
// ParseChatCompletionsData does not model.
func consumeGigachatSSE(body io.Reader, sender chan<- schema.ResponseEvent, requestID string, logger *slog.Logger) (engine.ProviderOutcome, error) {
	var frames sse.FrameBuffer
	var text, reasoning strings.Builder
	toolAcc := sse.NewToolCallAccumulator()
	var legacyName, legacyStateID string
	var legacyArgs strings.Builder
	var outputTokens uint32
	var hasUsage bool
	sampler := &sse.DebugSampler{}
	live := sender != nil

	process := func(frame string) {
		data, ok := sse.ExtractData(frame)
		if !ok {
			return
		}
		if delta, err := sse.ParseChatCompletionsData(data); err == nil {
			if delta.HasUsage {
				hasUsage = true
				outputTokens = delta.OutputTokens
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
		}

		var legacy struct {
			Choices []struct {
				Delta struct {
					FunctionCall *struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function_call"`
				} `json:"delta"`
				FunctionsStateID string `json:"functions_state_id"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &legacy); err == nil && len(legacy.Choices) > 0 {
			if fc := legacy.Choices[0].Delta.FunctionCall; fc != nil {
				if fc.Name != "" {
					legacyName = fc.Name
				}
				legacyArgs.WriteString(fc.Arguments)
			}
			if legacy.Choices[0].FunctionsStateID != "" {
				legacyStateID = legacy.Choices[0].FunctionsStateID
			}
		}

		if sampler.Sample() {
			logger.Debug("provider.stream.frame", "preview", sse.Preview(data))
		}
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range frames.Feed(buf[:n]) {
				process(frame)
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
		process(tail)
	}

	toolCalls := toolAcc.Finalize()
	if legacyName != "" {
		dedup := false
		for _, tc := range toolCalls {
			if tc.Function.Name == legacyName && tc.Function.Arguments == legacyArgs.String() {
				dedup = true
				break
			}
		}
		if !dedup {
			id := legacyStateID
			if id == "" {
				id = "call_" + uuid.New().String()
			}
			toolCalls = append(toolCalls, schema.ToolCall{
				ID: id, Type: "function",
				Function: schema.ToolFunction{Name: legacyName, Arguments: legacyArgs.String()},
			})
		}
	}

	if text.Len() == 0 && len(toolCalls) == 0 {
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
		ToolCalls:    toolCalls,
		EmittedLive:  live,
	}, nil
}
