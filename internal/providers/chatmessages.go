// Package providers implements the canonical ProviderClient contract
// against the upstream wire dialects spec'd for each provider family:
// the chat-completions-family adapters, Yandex's responses-shaped
// endpoint, and GigaChat's OAuth-gated chat-completions variant.
package providers

import (
	"encoding/json"
	"strings"

	"github.com/olegische/xrouter-go/internal/schema"
)

// chatMessage is one outbound chat-completions-family message.
type chatMessage struct {
	Role       string          `json:"role"`
	Content    interface{}     `json:"content,omitempty"`
	ToolCalls  []toolCallWire  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type toolCallWire struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function toolFunctionWire `json:"function"`
}

type toolFunctionWire struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// buildChatMessages rewrites canonical input into chat-completions
// messages per SPEC_FULL §4.2.1: text input becomes one user message;
// item input maps one message per item, with function_call and
// function_call_output item kinds taking special shapes and role
// "developer" remapped to "system".
func buildChatMessages(input schema.ResponsesInput) []chatMessage {
	if input.IsText() {
		return []chatMessage{{Role: "user", Content: input.Text}}
	}

	names := map[string]string{}
	for _, item := range input.Items {
		if item.Kind == "function_call" && item.CallID != "" {
			names[item.CallID] = item.Name
		}
	}

	messages := make([]chatMessage, 0, len(input.Items))
	for _, item := range input.Items {
		switch item.Kind {
		case "function_call":
			messages = append(messages, chatMessage{
				Role: "assistant",
				ToolCalls: []toolCallWire{{
					ID:   item.CallID,
					Type: "function",
					Function: toolFunctionWire{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case "function_call_output":
			name := item.Name
			if name == "" {
				name = names[item.CallID]
			}
			messages = append(messages, chatMessage{
				Role:       "tool",
				ToolCallID: item.CallID,
				Content:    item.Output,
				Name:       name,
			})
		default:
			role := item.Role
			if role == "developer" {
				role = "system"
			}
			if role == "" {
				role = "user"
			}
			messages = append(messages, chatMessage{Role: role, Content: item.ExtractText()})
		}
	}
	return messages
}

// normalizedTools is the chat-completions-family tools normalization
// result (SPEC_FULL §4.2.1): bare {name, parameters} tools rewritten
// into {type:"function", function:{...}}; non-function tools dropped.
type normalizedTools struct {
	Tools       []json.RawMessage
	DroppedKind []string
}

func normalizeChatTools(tools []json.RawMessage) normalizedTools {
	var out normalizedTools
	for _, raw := range tools {
		var probe struct {
			Type     string          `json:"type"`
			Function json.RawMessage `json:"function"`
			Name     string          `json:"name"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			out.DroppedKind = append(out.DroppedKind, "unparsable")
			continue
		}
		if probe.Function != nil {
			if probe.Type != "" && probe.Type != "function" {
				out.DroppedKind = append(out.DroppedKind, probe.Type)
				continue
			}
			out.Tools = append(out.Tools, raw)
			continue
		}
		kind := probe.Type
		if kind == "" {
			kind = "function"
		}
		if kind != "function" || strings.TrimSpace(probe.Name) == "" {
			if kind == "" {
				kind = "unknown"
			}
			out.DroppedKind = append(out.DroppedKind, kind)
			continue
		}

		var body map[string]json.RawMessage
		_ = json.Unmarshal(raw, &body)
		delete(body, "type")
		function, _ := json.Marshal(body)
		rewritten, _ := json.Marshal(map[string]json.RawMessage{
			"type":     json.RawMessage(`"function"`),
			"function": function,
		})
		out.Tools = append(out.Tools, rewritten)
	}
	return out
}

// normalizeChatToolChoice implements the tool_choice normalization
// table in SPEC_FULL §4.2.1. Returns nil when the choice is
// unrecognized or when hasTools is false.
func normalizeChatToolChoice(choice json.RawMessage, hasTools bool) json.RawMessage {
	if !hasTools || len(choice) == 0 {
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
	if obj.Type != "function" || strings.TrimSpace(name) == "" {
		return nil
	}
	out, _ := json.Marshal(map[string]any{
		"type":     "function",
		"function": map[string]string{"name": name},
	})
	return out
}

// extractMessageContent pulls text from a chat-completions message
// content field, which may be a string or an array of {text} parts.
func extractMessageContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}
