package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/olegische/xrouter-go/internal/schema"
)

var tracer = otel.Tracer("xrouter-go/engine")

// toolCallFallbackPattern recovers a "TOOL_CALL:<name>:<json>" marker
// from anywhere in the accumulated output text when the adapter didn't already
// report structured tool calls (SPEC_FULL §4.5).
var toolCallFallbackPattern = regexp.MustCompile(`TOOL_CALL:([^:\s]+):(\{.*\})`)

// Engine runs the Idle->Ingest->Tokenize->Generate->Done|Failed state
// machine against one ProviderClient.
type Engine struct {
	client        ProviderClient
	billingEnabled bool
	billing       BillingStage
	logger        *slog.Logger
}

// New builds an engine bound to a single provider's adapter.
func New(client ProviderClient, billingEnabled bool, billing BillingStage, logger *slog.Logger) *Engine {
	if billing == nil {
		billing = NoopBillingStage{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{client: client, billingEnabled: billingEnabled, billing: billing, logger: logger}
}

// Execute runs a request to completion and returns the canonical
// response. It never pushes live deltas (no sender is given to the
// adapter).
func (e *Engine) Execute(ctx context.Context, req schema.ResponsesRequest) (schema.ResponsesResponse, *CoreError) {
	reqCtx := NewExecutionContext(req)
	outcome, err := e.run(ctx, reqCtx, nil)
	if err != nil {
		return schema.ResponsesResponse{}, err
	}
	return e.finalize(reqCtx, outcome), nil
}

// ExecuteStream runs a request to completion while forwarding
// canonical events into events as they're produced. The channel is
// closed after exactly one terminal event is sent.
func (e *Engine) ExecuteStream(ctx context.Context, req schema.ResponsesRequest, disconnectAt *DisconnectAt) <-chan schema.ResponseEvent {
	events := make(chan schema.ResponseEvent, 32)
	go func() {
		defer close(events)
		reqCtx := NewExecutionContext(req)
		reqCtx.DisconnectAt = disconnectAt

		outcome, err := e.run(ctx, reqCtx, events)
		if err != nil {
			events <- schema.ResponseErrorEvent(reqCtx.RequestID, err.Error())
			return
		}

		resp := e.finalize(reqCtx, outcome)
		events <- schema.ResponseCompletedEvent(resp.ID, resp.Output, resp.FinishReason, resp.Usage)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, reqCtx *ExecutionContext, sender chan<- schema.ResponseEvent) (ProviderOutcome, *CoreError) {
	stageCtx, span := tracer.Start(ctx, "engine.execute")
	defer span.End()

	if err := ingest(reqCtx); err != nil {
		e.logStage(reqCtx, "ingest", err)
		reqCtx.State = StateFailed
		return ProviderOutcome{}, err
	}
	if err := tokenize(reqCtx); err != nil {
		e.logStage(reqCtx, "tokenize", err)
		reqCtx.State = StateFailed
		return ProviderOutcome{}, err
	}

	if e.billingEnabled {
		reqCtx.State = StateHold
		if err := e.billing.Hold(stageCtx, reqCtx); err != nil {
			billingErr := BillingError("%s", err.Error())
			e.logStage(reqCtx, "hold", billingErr)
			reqCtx.State = StateFailed
			return ProviderOutcome{}, billingErr
		}
	}

	reqCtx.State = StateGenerate
	if err := reqCtx.disconnectHit(StateGenerate); err != nil {
		reqCtx.State = StateFailed
		return ProviderOutcome{}, err
	}

	outcome, coreErr := e.generate(stageCtx, reqCtx, sender)
	if coreErr != nil {
		e.logStage(reqCtx, "generate", coreErr)
		reqCtx.State = StateFailed
		return ProviderOutcome{}, coreErr
	}

	if e.billingEnabled {
		reqCtx.State = StateFinalize
		if err := e.billing.Finalize(stageCtx, reqCtx, outcome); err != nil {
			billingErr := BillingError("%s", err.Error())
			e.logStage(reqCtx, "finalize", billingErr)
			reqCtx.State = StateFailed
			return ProviderOutcome{}, billingErr
		}
	}

	reqCtx.State = StateDone
	return outcome, nil
}

func (e *Engine) generate(ctx context.Context, reqCtx *ExecutionContext, sender chan<- schema.ResponseEvent) (ProviderOutcome, *CoreError) {
	genReq := ProviderGenerateRequest{
		Model:      reqCtx.Request.Model,
		Input:      reqCtx.Request.Input,
		Reasoning:  reqCtx.Request.Reasoning,
		Tools:      reqCtx.Request.Tools,
		ToolChoice: reqCtx.Request.ToolChoice,
	}

	var outcome ProviderOutcome
	var err error
	if sender != nil {
		outcome, err = e.client.GenerateStream(ctx, ProviderGenerateStreamRequest{
			ProviderGenerateRequest: genReq,
			RequestID:               reqCtx.RequestID,
			Sender:                  sender,
		})
	} else {
		outcome, err = e.client.Generate(ctx, genReq)
	}
	if err != nil {
		if ce, ok := err.(*CoreError); ok {
			return ProviderOutcome{}, ce
		}
		return ProviderOutcome{}, ProviderError("%s", err.Error())
	}

	reqCtx.EmittedLive = outcome.EmittedLive
	reqCtx.ReasoningDetails = outcome.ReasoningDetails
	reqCtx.ToolCalls = outcome.ToolCalls
	reqCtx.OutputTokens = outcome.OutputTokens

	if !outcome.EmittedLive && sender != nil {
		if outcome.Reasoning != nil && *outcome.Reasoning != "" {
			sender <- schema.ReasoningDelta(reqCtx.RequestID, *outcome.Reasoning)
		}
		for _, chunk := range outcome.Chunks {
			sender <- schema.OutputTextDelta(reqCtx.RequestID, chunk)
		}
	}

	if outcome.Reasoning != nil {
		reqCtx.Reasoning.WriteString(*outcome.Reasoning)
	}
	for _, chunk := range outcome.Chunks {
		reqCtx.OutputText.WriteString(chunk)
	}

	return outcome, nil
}

// finalize computes tool calls (from the adapter outcome, or by
// scanning output_text for the "TOOL_CALL:<name>:<json>" fallback
// marker), finish_reason, and assembles output as
// [Message, Reasoning?, FunctionCall*].
func (e *Engine) finalize(reqCtx *ExecutionContext, outcome ProviderOutcome) schema.ResponsesResponse {
	outputText := reqCtx.OutputText.String()
	toolCalls := reqCtx.ToolCalls
	if len(toolCalls) == 0 {
		if recovered, cleaned, ok := recoverToolCallFromText(reqCtx.RequestID, outputText); ok {
			toolCalls = []schema.ToolCall{recovered}
			outputText = cleaned
		}
	}

	finishReason := "stop"
	if len(toolCalls) > 0 {
		finishReason = "tool_calls"
	}

	if outcome.OutputTokens == 0 {
		outcome.OutputTokens = whitespaceTokenCount(outputText)
	}

	output := make([]schema.ResponseOutputItem, 0, 1+len(toolCalls)+1)
	output = append(output, schema.NewMessageItem(reqCtx.RequestID, "assistant", outputText))

	if reasoning := reqCtx.Reasoning.String(); reasoning != "" {
		item := schema.ResponseOutputItem{
			Type:    schema.OutputItemTypeReasoning,
			ID:      reqCtx.RequestID,
			Summary: []string{reasoning},
			Details: reqCtx.ReasoningDetails,
		}
		output = append(output, item)
	}

	for _, tc := range toolCalls {
		output = append(output, schema.ResponseOutputItem{
			Type:      schema.OutputItemTypeFunctionCall,
			ID:        reqCtx.RequestID,
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	usage := schema.Usage{
		InputTokens:  reqCtx.InputTokens,
		OutputTokens: outcome.OutputTokens,
		TotalTokens:  reqCtx.InputTokens + outcome.OutputTokens,
	}

	return schema.ResponsesResponse{
		ID:           reqCtx.RequestID,
		Object:       "response",
		Status:       "completed",
		Output:       output,
		FinishReason: finishReason,
		Usage:        usage,
	}
}

// recoverToolCallFromText scans text for the legacy
// "TOOL_CALL:<name>:<json>" marker, returning the recovered call and
// the text with the marker removed.
func recoverToolCallFromText(requestID, text string) (schema.ToolCall, string, bool) {
	match := toolCallFallbackPattern.FindStringSubmatchIndex(text)
	if match == nil {
		return schema.ToolCall{}, text, false
	}
	name := text[match[2]:match[3]]
	args := text[match[4]:match[5]]
	if strings.TrimSpace(name) == "" {
		return schema.ToolCall{}, text, false
	}
	if !json.Valid([]byte(args)) {
		return schema.ToolCall{}, text, false
	}

	suffix := requestID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}

	cleaned := text[:match[0]] + text[match[1]:]
	return schema.ToolCall{
		ID:   "call_" + suffix,
		Type: "function",
		Function: schema.ToolFunction{
			Name:      name,
			Arguments: args,
		},
	}, strings.TrimSpace(cleaned), true
}

func (e *Engine) logStage(reqCtx *ExecutionContext, stage string, err *CoreError) {
	e.logger.Warn("engine.stage.failed",
		"request_id", reqCtx.RequestID,
		"stage", stage,
		"error", err.Error(),
	)
}
