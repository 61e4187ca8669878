package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegische/xrouter-go/internal/schema"
)

// fakeClient returns a scripted outcome/error for every Generate or
// GenerateStream call, and records whether it was invoked in
// non-streaming or streaming mode.
type fakeClient struct {
	name         string
	outcome      ProviderOutcome
	err          error
	streamEvents []schema.ResponseEvent
	generated    bool
	streamed     bool
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Generate(ctx context.Context, req ProviderGenerateRequest) (ProviderOutcome, error) {
	f.generated = true
	return f.outcome, f.err
}

func (f *fakeClient) GenerateStream(ctx context.Context, req ProviderGenerateStreamRequest) (ProviderOutcome, error) {
	f.streamed = true
	for _, evt := range f.streamEvents {
		req.Sender <- evt
	}
	return f.outcome, f.err
}

type failingBilling struct {
	holdErr     error
	finalizeErr error
}

func (b failingBilling) Hold(context.Context, *ExecutionContext) error { return b.holdErr }
func (b failingBilling) Finalize(context.Context, *ExecutionContext, ProviderOutcome) error {
	return b.finalizeErr
}

func textReq(text string) schema.ResponsesRequest {
	return schema.ResponsesRequest{Model: "openrouter/anthropic/claude-3.5-sonnet", Input: schema.ResponsesInput{Text: text}}
}

func TestExecute_HappyPath(t *testing.T) {
	client := &fakeClient{name: "openrouter", outcome: ProviderOutcome{Chunks: []string{"hi there"}, OutputTokens: 2}}
	eng := New(client, false, nil, nil)

	resp, err := eng.Execute(context.Background(), textReq("hello world"))
	require.Nil(t, err)

	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "stop", resp.FinishReason)
	require.Len(t, resp.Output, 1)
	assert.Equal(t, "hi there", resp.Output[0].Content[0].Text)
	assert.Equal(t, uint32(2), resp.Usage.InputTokens)
	assert.Equal(t, uint32(2), resp.Usage.OutputTokens)
	assert.Equal(t, uint32(4), resp.Usage.TotalTokens)
}

func TestExecute_EmptyInputFailsAtIngest(t *testing.T) {
	client := &fakeClient{name: "openai"}
	eng := New(client, false, nil, nil)

	_, err := eng.Execute(context.Background(), textReq("   "))
	require.NotNil(t, err)
	assert.Equal(t, KindValidation, err.Kind())
	assert.Equal(t, "validation failed: input must not be empty", err.Error())
}

func TestExecute_ProviderErrorPassesThroughUnwrapped(t *testing.T) {
	client := &fakeClient{name: "zai", err: ProviderError("provider overloaded: %s", "503")}
	eng := New(client, false, nil, nil)

	_, err := eng.Execute(context.Background(), textReq("hello"))
	require.NotNil(t, err)
	assert.Equal(t, KindProvider, err.Kind())
	assert.True(t, err.Overloaded())
}

func TestExecute_NonCoreProviderErrorIsWrapped(t *testing.T) {
	client := &fakeClient{name: "deepseek", err: assertError{"boom"}}
	eng := New(client, false, nil, nil)

	_, err := eng.Execute(context.Background(), textReq("hello"))
	require.NotNil(t, err)
	assert.Equal(t, KindProvider, err.Kind())
	assert.False(t, err.Overloaded())
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestExecute_ToolCallFallbackRecoveredFromText(t *testing.T) {
	client := &fakeClient{name: "deepseek", outcome: ProviderOutcome{
		Chunks: []string{`before TOOL_CALL:get_weather:{"location":"NYC"} after`},
	}}
	eng := New(client, false, nil, nil)

	resp, err := eng.Execute(context.Background(), textReq("what's the weather"))
	require.Nil(t, err)

	assert.Equal(t, "tool_calls", resp.FinishReason)
	require.Len(t, resp.Output, 2)
	assert.Equal(t, "before  after", resp.Output[0].Content[0].Text)
	fc := resp.Output[1]
	assert.Equal(t, schema.OutputItemTypeFunctionCall, fc.Type)
	assert.True(t, len(fc.CallID) > len("call_"))
	assert.Equal(t, "get_weather", fc.Name)
	assert.Equal(t, `{"location":"NYC"}`, fc.Arguments)
}

func TestExecute_StructuredToolCallsSkipFallbackScan(t *testing.T) {
	client := &fakeClient{name: "deepseek", outcome: ProviderOutcome{
		Chunks: []string{"TOOL_CALL:ignored:{}"},
		ToolCalls: []schema.ToolCall{
			{ID: "call_abc", Type: "function", Function: schema.ToolFunction{Name: "lookup", Arguments: "{}"}},
		},
	}}
	eng := New(client, false, nil, nil)

	resp, err := eng.Execute(context.Background(), textReq("go"))
	require.Nil(t, err)
	require.Len(t, resp.Output, 2)
	assert.Equal(t, "lookup", resp.Output[1].Name)
	assert.Equal(t, "call_abc", resp.Output[1].CallID)
}

func TestExecute_BillingHoldFailureStopsBeforeGenerate(t *testing.T) {
	client := &fakeClient{name: "openai", outcome: ProviderOutcome{Chunks: []string{"should not run"}}}
	eng := New(client, true, failingBilling{holdErr: assertError{"insufficient balance"}}, nil)

	_, err := eng.Execute(context.Background(), textReq("hello"))
	require.NotNil(t, err)
	assert.Equal(t, KindBilling, err.Kind())
	assert.False(t, client.generated)
	assert.False(t, client.streamed)
}

func TestExecute_BillingFinalizeFailureAfterSuccessfulGenerate(t *testing.T) {
	client := &fakeClient{name: "openai", outcome: ProviderOutcome{Chunks: []string{"done"}}}
	eng := New(client, true, failingBilling{finalizeErr: assertError{"ledger unavailable"}}, nil)

	_, err := eng.Execute(context.Background(), textReq("hello"))
	require.NotNil(t, err)
	assert.Equal(t, KindBilling, err.Kind())
}

func TestExecuteStream_EmitsDeltasThenCompleted(t *testing.T) {
	client := &fakeClient{name: "openai", outcome: ProviderOutcome{
		EmittedLive: true,
	}}
	client.streamEvents = []schema.ResponseEvent{
		schema.OutputTextDelta("placeholder", "hel"),
		schema.OutputTextDelta("placeholder", "lo"),
	}
	eng := New(client, false, nil, nil)

	events := eng.ExecuteStream(context.Background(), textReq("hi"), nil)

	var seen []schema.ResponseEvent
	for evt := range events {
		seen = append(seen, evt)
	}

	require.True(t, client.streamed)
	require.Len(t, seen, 3)
	assert.Equal(t, schema.EventOutputTextDelta, seen[0].Type)
	assert.Equal(t, schema.EventOutputTextDelta, seen[1].Type)
	assert.Equal(t, schema.EventResponseCompleted, seen[2].Type)
}

func TestExecuteStream_ErrorProducesExactlyOneTerminalEvent(t *testing.T) {
	client := &fakeClient{name: "openai", err: ProviderError("provider overloaded: retry later")}
	eng := New(client, false, nil, nil)

	events := eng.ExecuteStream(context.Background(), textReq("hi"), nil)

	var seen []schema.ResponseEvent
	for evt := range events {
		seen = append(seen, evt)
	}

	require.Len(t, seen, 1)
	assert.Equal(t, schema.EventResponseError, seen[0].Type)
}

func TestDisconnectHit_AtGenerateFlagsClientGoneButDoesNotAbort(t *testing.T) {
	reqCtx := NewExecutionContext(textReq("hi"))
	at := StateGenerate
	reqCtx.DisconnectAt = &at

	err := reqCtx.disconnectHit(StateGenerate)
	require.Nil(t, err)
	assert.False(t, reqCtx.ClientConnected)
}

func TestExecuteStream_DisconnectAtIngestAbortsWithClientDisconnected(t *testing.T) {
	client := &fakeClient{name: "openai"}
	eng := New(client, false, nil, nil)

	at := StateIngest
	events := eng.ExecuteStream(context.Background(), textReq("hi"), &at)

	var seen []schema.ResponseEvent
	for evt := range events {
		seen = append(seen, evt)
	}
	require.Len(t, seen, 1)
	assert.Equal(t, schema.EventResponseError, seen[0].Type)
	assert.Equal(t, "client disconnected", seen[0].Message)
	assert.False(t, client.streamed)
}

func TestCoreError_OverloadedOnlyForProviderKindWithPrefix(t *testing.T) {
	assert.True(t, ProviderError("provider overloaded: 503 from upstream").Overloaded())
	assert.False(t, ProviderError("upstream returned 503").Overloaded())
	assert.False(t, ValidationError("provider overloaded: not really").Overloaded())
}

func TestWhitespaceTokenCount(t *testing.T) {
	assert.Equal(t, uint32(0), whitespaceTokenCount(""))
	assert.Equal(t, uint32(0), whitespaceTokenCount("   "))
	assert.Equal(t, uint32(3), whitespaceTokenCount("one two  three"))
}

func TestKernelState_String(t *testing.T) {
	assert.Equal(t, "generate", StateGenerate.String())
	assert.Equal(t, "unknown", KernelState(99).String())
}
