package engine

import (
	"context"
	"encoding/json"

	"github.com/olegische/xrouter-go/internal/schema"
)

// ProviderOutcome is what every adapter call resolves to (SPEC_FULL
// §4.2). EmittedLive=true signals the adapter already pushed deltas
// into the stream sender and the engine must not re-emit from Chunks.
type ProviderOutcome struct {
	Chunks           []string
	OutputTokens     uint32
	Reasoning        *string
	ReasoningDetails []json.RawMessage
	ToolCalls        []schema.ToolCall
	EmittedLive      bool
}

// ProviderGenerateRequest is the non-streaming call shape.
type ProviderGenerateRequest struct {
	Model      string
	Input      schema.ResponsesInput
	Reasoning  *schema.ReasoningConfig
	Tools      []json.RawMessage
	ToolChoice json.RawMessage
}

// ProviderGenerateStreamRequest is the streaming call shape: the
// adapter pushes canonical events into Sender as upstream bytes
// arrive.
type ProviderGenerateStreamRequest struct {
	ProviderGenerateRequest
	RequestID string
	Sender    chan<- schema.ResponseEvent
}

// ProviderClient is the adapter contract every provider implements.
type ProviderClient interface {
	Name() string
	Generate(ctx context.Context, req ProviderGenerateRequest) (ProviderOutcome, error)
	GenerateStream(ctx context.Context, req ProviderGenerateStreamRequest) (ProviderOutcome, error)
}

// BillingStage is the optional hold/finalize collaborator (SPEC_FULL
// §4.5). A no-op implementation is used whenever billing is disabled.
type BillingStage interface {
	Hold(ctx context.Context, reqCtx *ExecutionContext) error
	Finalize(ctx context.Context, reqCtx *ExecutionContext, outcome ProviderOutcome) error
}

// NoopBillingStage implements BillingStage with no side effects.
type NoopBillingStage struct{}

func (NoopBillingStage) Hold(context.Context, *ExecutionContext) error { return nil }
func (NoopBillingStage) Finalize(context.Context, *ExecutionContext, ProviderOutcome) error {
	return nil
}
