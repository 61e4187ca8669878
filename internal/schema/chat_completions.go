package schema

import "encoding/json"

// ChatMessage is one OpenAI-style chat message on the Chat Completions
// surface.
type ChatMessage struct {
	Role             string     `json:"role"`
	Content          string     `json:"content,omitempty"`
	Name             string     `json:"name,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	Reasoning        string     `json:"reasoning,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// ChatCompletionsRequest is the wire shape of the Chat Completions
// surface; it converts to/from ResponsesRequest so both surfaces
// share the one execution engine.
type ChatCompletionsRequest struct {
	Model      string            `json:"model"`
	Messages   []ChatMessage     `json:"messages"`
	Stream     bool              `json:"stream,omitempty"`
	Reasoning  *ReasoningConfig  `json:"reasoning,omitempty"`
	Tools      []json.RawMessage `json:"tools,omitempty"`
	ToolChoice json.RawMessage   `json:"tool_choice,omitempty"`
}

// ToResponsesRequest converts a chat-completions request into the
// canonical ResponsesRequest by turning each message into a
// ResponseInputItem.
func (r ChatCompletionsRequest) ToResponsesRequest() ResponsesRequest {
	items := make([]ResponseInputItem, 0, len(r.Messages))
	for _, m := range r.Messages {
		if m.Role == "tool" {
			items = append(items, ResponseInputItem{
				Kind:   "function_call_output",
				Role:   "tool",
				CallID: m.ToolCallID,
				Name:   m.Name,
				Output: m.Content,
			})
			continue
		}
		if len(m.ToolCalls) > 0 {
			for _, tc := range m.ToolCalls {
				items = append(items, ResponseInputItem{
					Kind:      "function_call",
					Role:      m.Role,
					CallID:    tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			continue
		}
		items = append(items, ResponseInputItem{
			Kind:    "message",
			Role:    m.Role,
			Content: &ResponseInputContent{Text: m.Content},
		})
	}

	return ResponsesRequest{
		Model:      r.Model,
		Input:      ResponsesInput{Items: items},
		Stream:     r.Stream,
		Reasoning:  r.Reasoning,
		Tools:      r.Tools,
		ToolChoice: r.ToolChoice,
	}
}

// ChatChoice is one element of a ChatCompletionsResponse's choices
// list.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatCompletionsResponse is the wire shape returned from the Chat
// Completions surface.
type ChatCompletionsResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// ChatCompletionsResponseFromResponses projects a canonical
// ResponsesResponse into the Chat Completions wire shape.
func ChatCompletionsResponseFromResponses(resp ResponsesResponse) ChatCompletionsResponse {
	message := ChatMessage{Role: "assistant"}
	var reasoning string
	var toolCalls []ToolCall

	for _, item := range resp.Output {
		switch item.Type {
		case OutputItemTypeMessage:
			for _, part := range item.Content {
				message.Content += part.Text
			}
		case OutputItemTypeReasoning:
			for _, s := range item.Summary {
				reasoning += s
			}
		case OutputItemTypeFunctionCall:
			toolCalls = append(toolCalls, ToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: ToolFunction{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
		}
	}
	message.ToolCalls = toolCalls
	message.Reasoning = reasoning
	message.ReasoningContent = reasoning

	return ChatCompletionsResponse{
		ID:     resp.ID,
		Object: "chat.completion",
		Choices: []ChatChoice{
			{Index: 0, Message: message, FinishReason: resp.FinishReason},
		},
		Usage: resp.Usage,
	}
}
