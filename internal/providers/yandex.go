package providers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/olegische/xrouter-go/internal/engine"
	"github.com/olegische/xrouter-go/internal/httpruntime"
	"github.com/olegische/xrouter-go/internal/schema"
	"github.com/olegische/xrouter-go/internal/sse"
)

// YandexResponsesClient speaks Yandex's responses-shaped endpoint:
// POST {base}/responses with a gpt://<project>/<model> upstream model
// id (SPEC_FULL §4.2.2).
type YandexResponsesClient struct {
	baseURL string
	apiKey  string
	project string
	runtime *httpruntime.Runtime
	logger  *slog.Logger
}

func NewYandexResponsesClient(baseURL, apiKey, project string, runtime *httpruntime.Runtime, logger *slog.Logger) *YandexResponsesClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &YandexResponsesClient{baseURL: baseURL, apiKey: apiKey, project: project, runtime: runtime, logger: logger}
}

func (c *YandexResponsesClient) Name() string { return "yandex" }

func (c *YandexResponsesClient) Generate(ctx context.Context, req engine.ProviderGenerateRequest) (engine.ProviderOutcome, error) {
	return c.call(ctx, req, "")
}

func (c *YandexResponsesClient) GenerateStream(ctx context.Context, req engine.ProviderGenerateStreamRequest) (engine.ProviderOutcome, error) {
	return c.call(ctx, req.ProviderGenerateRequest, req.RequestID)
}

// call ignores the sender entirely: Yandex's cumulative-snapshot
// stream can retract content mid-stream, so emission always happens
// in the engine's post-processing (EmittedLive stays false).
func (c *YandexResponsesClient) call(ctx context.Context, req engine.ProviderGenerateRequest, requestID string) (engine.ProviderOutcome, error) {
	if strings.TrimSpace(c.baseURL) == "" {
		return engine.ProviderOutcome{}, engine.ProviderError("provider base_url is not configured")
	}
	upstreamModel, cerr := buildYandexUpstreamModel(req.Model, c.project)
	if cerr != nil {
		return engine.ProviderOutcome{}, cerr
	}

	payload := map[string]any{
		"model":  upstreamModel,
		"input":  sanitizeYandexInput(req.Input),
		"stream": true,
	}
	tools := normalizeYandexTools(req.Tools)
	if len(tools) > 0 {
		payload["tools"] = tools
		if choice := normalizeYandexToolChoice(req.ToolChoice); choice != nil {
			payload["tool_choice"] = choice
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return engine.ProviderOutcome{}, engine.ProviderError("provider request encode failed: %s", err.Error())
	}

	url := strings.TrimRight(c.baseURL, "/") + "/responses"
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}
	if strings.TrimSpace(c.project) != "" {
		headers["OpenAI-Project"] = c.project
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
		return parseYandexResponsesJSON(data)
	}
	return consumeYandexSSE(resp.Body)
}

func buildYandexUpstreamModel(model, project string) (string, *engine.CoreError) {
	if strings.HasPrefix(model, "gpt://") {
		return model, nil
	}
	project = strings.TrimSpace(project)
	if project == "" {
		return "", engine.ProviderError("provider project is not configured for yandex")
	}
	return "gpt://" + project + "/" + model, nil
}

// sanitizeYandexInput drops empty assistant messages and assistant
// preambles sitting between a function_call and its matching
// function_call_output (SPEC_FULL §4.2.2).
func sanitizeYandexInput(input schema.ResponsesInput) schema.ResponsesInput {
	if input.IsText() {
		return input
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
	return schema.ResponsesInput{Items: filtered}
}

func isEmptyAssistantMessage(item schema.ResponseInputItem) bool {
	if item.Kind == "function_call" || item.Kind == "function_call_output" {
		return false
	}
	if item.Role != "assistant" {
		return false
	}
	return strings.TrimSpace(item.ExtractText()) == ""
}

func isDroppableAssistantPreamble(items []schema.ResponseInputItem, i int) bool {
	item := items[i]
	if item.Kind != "" && item.Kind != "message" {
		return false
	}
	if item.Role != "assistant" {
		return false
	}
	if i == 0 || items[i-1].Kind != "function_call" {
		return false
	}
	callID := items[i-1].CallID
	for j := i + 1; j < len(items); j++ {
		switch items[j].Kind {
		case "function_call_output":
			if items[j].CallID == callID {
				return true
			}
		case "function_call":
			continue
		default:
			return false
		}
	}
	return false
}

// normalizeYandexTools rewrites canonical tools into Yandex's flat
// {type:"function", name, description?, parameters, strict?} shape.
func normalizeYandexTools(tools []json.RawMessage) []json.RawMessage {
	var out []json.RawMessage
	for _, raw := range tools {
		var probe struct {
			Type        string          `json:"type"`
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
			Strict      *bool           `json:"strict"`
			Function    *struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
				Strict      *bool           `json:"strict"`
			} `json:"function"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			continue
		}
		name, desc, params, strict := probe.Name, probe.Description, probe.Parameters, probe.Strict
		if probe.Function != nil {
			name, desc, params, strict = probe.Function.Name, probe.Function.Description, probe.Function.Parameters, probe.Function.Strict
		}
		if strings.TrimSpace(name) == "" {
			continue
		}
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		obj := map[string]any{"type": "function", "name": name, "parameters": params}
		if desc != "" {
			obj["description"] = desc
		}
		if strict != nil {
			obj["strict"] = *strict
		}
		encoded, err := json.Marshal(obj)
		if err != nil {
			continue
		}
		out = append(out, encoded)
	}
	return out
}

func normalizeYandexToolChoice(choice json.RawMessage) json.RawMessage {
	if len(choice) == 0 {
		return nil
	}
	var str string
	if err := json.Unmarshal(choice, &str); err == nil {
		switch str {
		case "auto", "none", "required":
			return choice
		case "any":
			return json.RawMessage(`"required"`)
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
	out, _ := json.Marshal(map[string]string{"type": "function", "name": name})
	return out
}

var (
	toolCallStartPattern    = regexp.MustCompile(`(?s)\[TOOL_CALL_START\](\S+)\n(.*?)\[TOOL_CALL_END\]`)
	fencedToolCallPattern   = regexp.MustCompile("(?s)```([a-z_][a-z0-9_]*)\n(.*?)```")
	bareExecCommandPattern  = regexp.MustCompile(`(?s)^exec_command\n(.*)$`)
)

// recoverYandexToolCalls implements the three-pattern legacy
// reconstruction in order: bracketed markers, fenced code blocks, the
// bare exec_command special case (SPEC_FULL §4.2.2, §9).
func recoverYandexToolCalls(text string) ([]schema.ToolCall, string) {
	if matches := toolCallStartPattern.FindAllStringSubmatchIndex(text, -1); len(matches) > 0 {
		var calls []schema.ToolCall
		var sb strings.Builder
		last := 0
		for _, m := range matches {
			name := text[m[2]:m[3]]
			args := strings.TrimSpace(text[m[4]:m[5]])
			tc, ok := canonicalizeToolCall(name, args)
			if !ok {
				continue
			}
			calls = append(calls, tc)
			sb.WriteString(text[last:m[0]])
			last = m[1]
		}
		if len(calls) > 0 {
			sb.WriteString(text[last:])
			return calls, strings.TrimSpace(sb.String())
		}
	}

	if m := fencedToolCallPattern.FindStringSubmatchIndex(text); m != nil {
		name := text[m[2]:m[3]]
		args := strings.TrimSpace(text[m[4]:m[5]])
		if tc, ok := canonicalizeToolCall(name, args); ok {
			cleaned := strings.TrimSpace(text[:m[0]] + text[m[1]:])
			return []schema.ToolCall{tc}, cleaned
		}
	}

	trimmed := strings.TrimSpace(text)
	if m := bareExecCommandPattern.FindStringSubmatchIndex(trimmed); m != nil {
		args := strings.TrimSpace(trimmed[m[2]:m[3]])
		if tc, ok := canonicalizeToolCall("exec_command", args); ok {
			return []schema.ToolCall{tc}, ""
		}
	}

	return nil, text
}

func canonicalizeToolCall(name, args string) (schema.ToolCall, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return schema.ToolCall{}, false
	}
	canonical := args
	if !json.Valid([]byte(args)) {
		trimmed := strings.TrimSpace(args)
		if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
			return schema.ToolCall{}, false
		}
		canonical = trimmed
	}
	return schema.ToolCall{
		ID:   "call_" + uuid.New().String(),
		Type: "function",
		Function: schema.ToolFunction{
			Name:      name,
			Arguments: canonical,
		},
	}, true
}

func extractResponsesMessageText(output []schema.ResponseOutputItem) string {
	for _, item := range output {
		if item.Type != schema.OutputItemTypeMessage {
			continue
		}
		var sb strings.Builder
		for _, part := range item.Content {
			sb.WriteString(part.Text)
		}
		return sb.String()
	}
	return ""
}

func parseYandexResponsesJSON(data []byte) (engine.ProviderOutcome, error) {
	var body struct {
		Output []schema.ResponseOutputItem `json:"output"`
		Usage  *schema.Usage               `json:"usage"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return engine.ProviderOutcome{}, engine.ProviderError("provider response parse failed: %s", err.Error())
	}

	text := extractResponsesMessageText(body.Output)
	var reasoningText string
	var reasoningDetails []json.RawMessage
	var toolCalls []schema.ToolCall
	for _, item := range body.Output {
		switch item.Type {
		case schema.OutputItemTypeReasoning:
			if len(item.Summary) > 0 {
				reasoningText = item.Summary[0]
			}
			reasoningDetails = item.Details
		case schema.OutputItemTypeFunctionCall:
			toolCalls = append(toolCalls, schema.ToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: schema.ToolFunction{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
		}
	}

	if len(toolCalls) == 0 {
		if recovered, cleaned := recoverYandexToolCalls(text); len(recovered) > 0 {
			toolCalls = recovered
			text = cleaned
		}
	}
	if text == "" && len(toolCalls) == 0 {
		return engine.ProviderOutcome{}, engine.ProviderError("provider returned empty message content")
	}

	outputTokens := uint32(len(strings.Fields(text)))
	if body.Usage != nil && body.Usage.OutputTokens > 0 {
		outputTokens = body.Usage.OutputTokens
	}
	var reasoningPtr *string
	if reasoningText != "" {
		reasoningPtr = &reasoningText
	}

	return engine.ProviderOutcome{
		Chunks:           []string{text},
		OutputTokens:     outputTokens,
		Reasoning:        reasoningPtr,
		ReasoningDetails: reasoningDetails,
		ToolCalls:        toolCalls,
	}, nil
}

// consumeYandexSSE reads the responses-shaped stream, handling the
// cumulative-snapshot exception for untyped frames. It never emits
// live deltas (see call's doc comment).
func consumeYandexSSE(body io.Reader) (engine.ProviderOutcome, error) {
	var frames sse.FrameBuffer
	var text strings.Builder
	var reasoningText string
	var reasoningDetails []json.RawMessage
	var toolCalls []schema.ToolCall
	var outputTokens uint32
	var hasUsage bool
	completed := false

	buf := make([]byte, 4096)
	for !completed {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, frame := range frames.Feed(buf[:n]) {
				data, ok := sse.ExtractData(frame)
				if !ok {
					continue
				}
				ev, err := sse.ParseResponsesData(data)
				if err != nil {
					continue
				}
				switch {
				case ev.HasTextDelta:
					text.WriteString(ev.TextDelta)
				case ev.ToolCallAdded != nil:
					toolCalls = append(toolCalls, *ev.ToolCallAdded)
				case ev.Completed:
					completed = true
					if ev.CompletedBody != nil {
						if t := extractResponsesMessageText(ev.CompletedBody.Output); t != "" {
							text.Reset()
							text.WriteString(t)
						}
						for _, item := range ev.CompletedBody.Output {
							if item.Type == schema.OutputItemTypeReasoning && len(item.Summary) > 0 {
								reasoningText = item.Summary[0]
								reasoningDetails = item.Details
							}
						}
						if ev.CompletedBody.Usage != nil && ev.CompletedBody.Usage.OutputTokens > 0 {
							hasUsage = true
							outputTokens = ev.CompletedBody.Usage.OutputTokens
						}
					}
				case ev.Unrecognized:
					var snapshot struct {
						Output []schema.ResponseOutputItem `json:"output"`
					}
					if err := json.Unmarshal([]byte(ev.RawForSnapshot), &snapshot); err == nil {
						if snapshotText := extractResponsesMessageText(snapshot.Output); snapshotText != "" {
							delta, reset := sse.YandexSnapshotDelta(text.String(), snapshotText)
							if reset {
								text.Reset()
							}
							text.WriteString(delta)
						}
					}
				}
				if completed {
					break
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return engine.ProviderOutcome{}, engine.ProviderError("provider stream read failed: %s", readErr.Error())
		}
	}

	finalText := text.String()
	if len(toolCalls) == 0 {
		if recovered, cleaned := recoverYandexToolCalls(finalText); len(recovered) > 0 {
			toolCalls = recovered
			finalText = cleaned
		}
	}
	if finalText == "" && len(toolCalls) == 0 {
		return engine.ProviderOutcome{}, engine.ProviderError("provider returned empty output")
	}
	if !hasUsage {
		outputTokens = uint32(len(strings.Fields(finalText)))
	}
	var reasoningPtr *string
	if reasoningText != "" {
		reasoningPtr = &reasoningText
	}

	return engine.ProviderOutcome{
		Chunks:           []string{finalText},
		OutputTokens:     outputTokens,
		Reasoning:        reasoningPtr,
		ReasoningDetails: reasoningDetails,
		ToolCalls:        toolCalls,
		EmittedLive:      false,
	}, nil
}
