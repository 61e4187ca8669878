package sse

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/olegische/xrouter-go/internal/schema"
)

// chatCompletionsChunk is the wire shape of one chat-completions-family
// SSE data object (or the non-SSE response body, for which only
// Choices[].Message is populated instead of Choices[].Delta).
type chatCompletionsChunk struct {
	Choices []struct {
		Delta        chatDelta       `json:"delta"`
		Message      *chatDelta      `json:"message"`
		FinishReason *string         `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		CompletionTokens uint32 `json:"completion_tokens"`
	} `json:"usage"`
}

type chatDelta struct {
	Content          contentField      `json:"content"`
	Reasoning        string            `json:"reasoning"`
	ReasoningContent string            `json:"reasoning_content"`
	ReasoningDetails []json.RawMessage `json:"reasoning_details"`
	ToolCalls        []toolCallDelta   `json:"tool_calls"`
}

// contentField accepts either a plain string or an array of
// {"text": "..."} parts, joining parts' text.
type contentField string

func (c *contentField) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == 0 || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = contentField(s)
		return nil
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	*c = contentField(sb.String())
	return nil
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ChatDelta is the normalized result of parsing one chat-completions
// frame: zero or more fields populated depending on what the frame
// carried.
type ChatDelta struct {
	Text         string
	Reasoning    string
	ToolCalls    []toolCallDelta
	FinishReason string
	OutputTokens uint32
	HasUsage     bool
}

// ParseChatCompletionsData parses one "data:" payload from a
// chat-completions-family stream (or the whole non-SSE response body,
// which reuses the same Choices[0].Message shape).
func ParseChatCompletionsData(data string) (ChatDelta, error) {
	var chunk chatCompletionsChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return ChatDelta{}, err
	}

	var out ChatDelta
	if chunk.Usage != nil {
		out.OutputTokens = chunk.Usage.CompletionTokens
		out.HasUsage = true
	}
	if len(chunk.Choices) == 0 {
		return out, nil
	}

	choice := chunk.Choices[0]
	delta := choice.Delta
	if choice.Message != nil {
		delta = *choice.Message
	}

	out.Text = string(delta.Content)
	out.Reasoning = firstNonEmpty(delta.ReasoningContent, delta.Reasoning, reasoningFromDetails(delta.ReasoningDetails))
	out.ToolCalls = delta.ToolCalls
	if choice.FinishReason != nil {
		out.FinishReason = *choice.FinishReason
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// reasoningFromDetails scans reasoning_details entries for
// reasoning.summary/reasoning.text fields, per SPEC_FULL §4.2.1.
func reasoningFromDetails(details []json.RawMessage) string {
	var sb strings.Builder
	for _, raw := range details {
		var entry struct {
			Summary string `json:"summary"`
			Text    string `json:"text"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Summary != "" {
			sb.WriteString(entry.Summary)
		} else if entry.Text != "" {
			sb.WriteString(entry.Text)
		}
	}
	return sb.String()
}

// ToolCallAccumulator merges indexed tool-call deltas across a
// chat-completions stream into finalized ToolCall values.
type ToolCallAccumulator struct {
	order   []int
	byIndex map[int]*schema.ToolCall
}

// NewToolCallAccumulator builds an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{byIndex: make(map[int]*schema.ToolCall)}
}

// Apply merges one delta into the accumulator's per-index state.
// Argument strings are concatenated across deltas for the same index.
func (a *ToolCallAccumulator) Apply(delta toolCallDelta) {
	tc, ok := a.byIndex[delta.Index]
	if !ok {
		tc = &schema.ToolCall{Type: "function"}
		a.byIndex[delta.Index] = tc
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		tc.ID = delta.ID
	}
	if delta.Type != "" {
		tc.Type = delta.Type
	}
	if delta.Function.Name != "" {
		tc.Function.Name = delta.Function.Name
	}
	tc.Function.Arguments += delta.Function.Arguments
}

// Empty reports whether any tool-call delta has been applied.
func (a *ToolCallAccumulator) Empty() bool {
	return len(a.order) == 0
}

// Finalize returns accumulated tool calls in the order their indices
// first appeared in the stream, synthesizing
// a "call_<uuid>" id for any entry that never received one.
func (a *ToolCallAccumulator) Finalize() []schema.ToolCall {
	out := make([]schema.ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		tc := a.byIndex[idx]
		if tc.ID == "" {
			tc.ID = "call_" + uuid.New().String()
		}
		out = append(out, *tc)
	}
	return out
}
