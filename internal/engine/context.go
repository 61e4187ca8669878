package engine

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/olegische/xrouter-go/internal/schema"
)

// KernelState is one state of the Idle -> Ingest -> Tokenize ->
// Generate -> Done|Failed machine, plus the two billing-only states
// that run only when billing is enabled.
type KernelState int

const (
	StateIdle KernelState = iota
	StateIngest
	StateTokenize
	StateHold
	StateGenerate
	StateFinalize
	StateDone
	StateFailed
)

func (s KernelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIngest:
		return "ingest"
	case StateTokenize:
		return "tokenize"
	case StateHold:
		return "hold"
	case StateGenerate:
		return "generate"
	case StateFinalize:
		return "finalize"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DisconnectAt names a stage for the test-only disconnect hook.
type DisconnectAt = KernelState

// ExecutionContext is per-request mutable state owned by one engine
// invocation. It is constructed once per request, mutated only by
// stage handlers in their declared order, and discarded when the
// engine returns or errors.
type ExecutionContext struct {
	RequestID      string
	State          KernelState
	ClientConnected bool

	Request          schema.ResponsesRequest
	CanonicalText    string

	OutputText       strings.Builder
	Reasoning        strings.Builder
	ReasoningDetails []json.RawMessage
	ToolCalls        []schema.ToolCall
	EmittedLive      bool

	InputTokens  uint32
	OutputTokens uint32

	// DisconnectAt is a test-only hint: reaching Ingest or Tokenize
	// aborts execution with a client-disconnected error, while reaching
	// Generate only marks the client as gone and lets execution finish.
	DisconnectAt *DisconnectAt
}

// NewExecutionContext builds a fresh context for one request.
func NewExecutionContext(req schema.ResponsesRequest) *ExecutionContext {
	return &ExecutionContext{
		RequestID:       "req_" + uuid.New().String(),
		State:           StateIdle,
		ClientConnected: true,
		Request:         req,
	}
}

func (ctx *ExecutionContext) disconnectHit(stage KernelState) *CoreError {
	if ctx.DisconnectAt == nil || *ctx.DisconnectAt != stage {
		return nil
	}
	switch stage {
	case StateIngest, StateTokenize:
		return ClientDisconnectedError()
	case StateGenerate:
		ctx.ClientConnected = false
	}
	return nil
}
