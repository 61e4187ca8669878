// Package schema holds the canonical request/response/event types the
// gateway routes everything through, independent of any upstream wire
// dialect.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReasoningConfig carries a single effort hint. Providers interpret
// effort differently (§4.2.1); the gateway itself never validates the
// value beyond passing it through.
type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

// ResponsesInput is either a plain string or an ordered sequence of
// ResponseInputItem. Exactly one of the two fields is populated.
type ResponsesInput struct {
	Text  string
	Items []ResponseInputItem
}

// IsText reports whether the input is the plain-string form.
func (in ResponsesInput) IsText() bool {
	return in.Items == nil
}

func (in ResponsesInput) MarshalJSON() ([]byte, error) {
	if in.IsText() {
		return json.Marshal(in.Text)
	}
	return json.Marshal(in.Items)
}

func (in *ResponsesInput) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*in = ResponsesInput{Text: text}
		return nil
	}

	var items []ResponseInputItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("responses input: %w", err)
	}
	*in = ResponsesInput{Items: items}
	return nil
}

// ResponseInputContent is either plain text or a list of typed parts.
type ResponseInputContent struct {
	Text  string
	Parts []ResponseInputContentPart
}

func (c ResponseInputContent) IsEmpty() bool {
	return c.Text == "" && len(c.Parts) == 0
}

func (c ResponseInputContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *ResponseInputContent) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*c = ResponseInputContent{Text: text}
		return nil
	}
	var parts []ResponseInputContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*c = ResponseInputContent{Parts: parts}
	return nil
}

// ResponseInputContentPart is one element of a multi-part input
// content list (`input_text`, `output_text`, or a bare `text` field).
type ResponseInputContentPart struct {
	Type       string `json:"type,omitempty"`
	InputText  string `json:"input_text,omitempty"`
	OutputText string `json:"output_text,omitempty"`
	Text       string `json:"text,omitempty"`
}

func (p ResponseInputContentPart) text() string {
	for _, v := range []string{p.InputText, p.OutputText, p.Text} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ResponseInputItem is one element of a sequenced ResponsesInput.
// Unknown JSON fields are preserved verbatim in Extra so adapters can
// still inspect provider-specific fields (e.g. a tool_call_id fallback
// during Yandex sanitization) without the schema knowing about them.
type ResponseInputItem struct {
	Kind      string                 `json:"type,omitempty"`
	Role      string                 `json:"role,omitempty"`
	Content   *ResponseInputContent  `json:"content,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Output    string                 `json:"output,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments string                 `json:"arguments,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

// knownInputItemFields lists the JSON keys modeled explicitly above;
// everything else round-trips through Extra.
var knownInputItemFields = map[string]bool{
	"type": true, "role": true, "content": true, "text": true,
	"output": true, "call_id": true, "name": true, "arguments": true,
}

func (it ResponseInputItem) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}
	for k, v := range it.Extra {
		out[k] = v
	}
	set := func(key string, value any) error {
		if isZero(value) {
			return nil
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		out[key] = raw
		return nil
	}
	if err := set("type", it.Kind); err != nil {
		return nil, err
	}
	if err := set("role", it.Role); err != nil {
		return nil, err
	}
	if it.Content != nil && !it.Content.IsEmpty() {
		raw, err := json.Marshal(it.Content)
		if err != nil {
			return nil, err
		}
		out["content"] = raw
	}
	for key, value := range map[string]string{
		"text": it.Text, "output": it.Output, "call_id": it.CallID,
		"name": it.Name, "arguments": it.Arguments,
	} {
		if err := set(key, value); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (it *ResponseInputItem) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	item := ResponseInputItem{Extra: map[string]json.RawMessage{}}
	for key, value := range raw {
		if !knownInputItemFields[key] {
			item.Extra[key] = value
			continue
		}
		switch key {
		case "type":
			_ = json.Unmarshal(value, &item.Kind)
		case "role":
			_ = json.Unmarshal(value, &item.Role)
		case "content":
			var content ResponseInputContent
			if err := json.Unmarshal(value, &content); err != nil {
				return err
			}
			item.Content = &content
		case "text":
			_ = json.Unmarshal(value, &item.Text)
		case "output":
			_ = json.Unmarshal(value, &item.Output)
		case "call_id":
			_ = json.Unmarshal(value, &item.CallID)
		case "name":
			_ = json.Unmarshal(value, &item.Name)
		case "arguments":
			_ = json.Unmarshal(value, &item.Arguments)
		}
	}
	*it = item
	return nil
}

// ExtractText returns an input item's text, flattening a typed-parts
// content list the same way a plain content string is read.
func (it ResponseInputItem) ExtractText() string {
	if strings.TrimSpace(it.Text) != "" {
		return strings.TrimSpace(it.Text)
	}
	if it.Content == nil {
		return ""
	}
	if it.Content.Parts == nil {
		return strings.TrimSpace(it.Content.Text)
	}
	var sb strings.Builder
	for _, part := range it.Content.Parts {
		sb.WriteString(part.text())
	}
	return strings.TrimSpace(sb.String())
}

// ToCanonicalText flattens the input to a single newline-joined string
// per item, following the exact per-item rules recovered from the
// original Rust source (see SPEC_FULL §3):
//
//	message item w/ content -> "<role>:<content>"
//	function_call_output w/ call_id -> "tool:<call_id>:<output>"
//	function_call_output w/o call_id -> "tool:<output>"
//	function_call w/ arguments -> "assistant_function_call:<name>:<arguments>"
//	function_call w/o arguments -> "assistant_function_call:<name>"
//	otherwise -> any non-empty text/content, else skipped
func (in ResponsesInput) ToCanonicalText() string {
	if in.IsText() {
		return in.Text
	}
	lines := make([]string, 0, len(in.Items))
	for _, item := range in.Items {
		if line, ok := flattenInputItem(item); ok {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func flattenInputItem(item ResponseInputItem) (string, bool) {
	switch item.Kind {
	case "function_call_output":
		if item.CallID != "" {
			return fmt.Sprintf("tool:%s:%s", item.CallID, item.Output), true
		}
		return fmt.Sprintf("tool:%s", item.Output), true
	case "function_call":
		if item.Arguments != "" {
			return fmt.Sprintf("assistant_function_call:%s:%s", item.Name, item.Arguments), true
		}
		return fmt.Sprintf("assistant_function_call:%s", item.Name), true
	}
	if item.Role != "" {
		text := item.ExtractText()
		if text != "" {
			return fmt.Sprintf("%s:%s", item.Role, text), true
		}
		return "", false
	}
	text := item.ExtractText()
	if text != "" {
		return text, true
	}
	return "", false
}

// ResponsesRequest is the canonical request both public APIs funnel
// into.
type ResponsesRequest struct {
	Model       string           `json:"model"`
	Input       ResponsesInput   `json:"input"`
	Stream      bool             `json:"stream,omitempty"`
	Reasoning   *ReasoningConfig `json:"reasoning,omitempty"`
	Tools       []json.RawMessage `json:"tools,omitempty"`
	ToolChoice  json.RawMessage  `json:"tool_choice,omitempty"`
}

// Usage carries input/output/total token counts.
type Usage struct {
	InputTokens  uint32 `json:"input_tokens"`
	OutputTokens uint32 `json:"output_tokens"`
	TotalTokens  uint32 `json:"total_tokens"`
}

// ToolFunction is the function half of a ToolCall.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a canonical function-call invocation. Arguments is a
// JSON-encoded string, possibly provider-raw text when JSON parsing
// of the upstream arguments failed.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ResponseOutputText is one text part of a Message output item.
type ResponseOutputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponseOutputItem is a tagged union: exactly one of Message,
// Reasoning, or FunctionCall is populated, discriminated by Type.
type ResponseOutputItem struct {
	Type string `json:"type"`

	// Message
	ID      string               `json:"id,omitempty"`
	Role    string               `json:"role,omitempty"`
	Content []ResponseOutputText `json:"content,omitempty"`

	// Reasoning
	Summary []string          `json:"summary,omitempty"`
	Details []json.RawMessage `json:"content_details,omitempty"`

	// FunctionCall
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

const (
	OutputItemTypeMessage      = "message"
	OutputItemTypeReasoning    = "reasoning"
	OutputItemTypeFunctionCall = "function_call"
)

// NewMessageItem builds a Message output item from plain text.
func NewMessageItem(id, role, text string) ResponseOutputItem {
	return ResponseOutputItem{
		Type: OutputItemTypeMessage,
		ID:   id,
		Role: role,
		Content: []ResponseOutputText{
			{Type: "output_text", Text: text},
		},
	}
}

// ResponsesResponse is the canonical completed response.
type ResponsesResponse struct {
	ID           string               `json:"id"`
	Object       string               `json:"object"`
	Status       string               `json:"status"`
	Output       []ResponseOutputItem `json:"output"`
	FinishReason string               `json:"finish_reason"`
	Usage        Usage                `json:"usage"`
}

// ResponseEvent is the tagged union emitted on the canonical stream.
// Exactly one of the typed constructors below is used per event; the
// stream ends after exactly one of ResponseCompleted/ResponseError.
type ResponseEvent struct {
	Type string `json:"type"`

	ID    string `json:"id,omitempty"`
	Delta string `json:"delta,omitempty"`

	Output       []ResponseOutputItem `json:"output,omitempty"`
	FinishReason string               `json:"finish_reason,omitempty"`
	Usage        *Usage               `json:"usage,omitempty"`

	Message string `json:"message,omitempty"`
}

const (
	EventOutputTextDelta   = "output_text_delta"
	EventReasoningDelta    = "reasoning_delta"
	EventResponseCompleted = "response_completed"
	EventResponseError     = "response_error"
)

func OutputTextDelta(id, delta string) ResponseEvent {
	return ResponseEvent{Type: EventOutputTextDelta, ID: id, Delta: delta}
}

func ReasoningDelta(id, delta string) ResponseEvent {
	return ResponseEvent{Type: EventReasoningDelta, ID: id, Delta: delta}
}

func ResponseCompletedEvent(id string, output []ResponseOutputItem, finishReason string, usage Usage) ResponseEvent {
	return ResponseEvent{
		Type: EventResponseCompleted, ID: id, Output: output,
		FinishReason: finishReason, Usage: &usage,
	}
}

func ResponseErrorEvent(id, message string) ResponseEvent {
	return ResponseEvent{Type: EventResponseError, ID: id, Message: message}
}

func isZero(v any) bool {
	s, ok := v.(string)
	return ok && s == ""
}
