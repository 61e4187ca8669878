package sse

import (
	"encoding/json"
	"strings"

	"github.com/olegische/xrouter-go/internal/schema"
)

const (
	ResponsesEventOutputTextDelta = "response.output_text.delta"
	ResponsesEventItemAdded       = "response.output_item.added"
	ResponsesEventCompleted       = "response.completed"
)

// ResponsesEvent is the normalized result of parsing one frame from a
// responses-shaped upstream stream.
type ResponsesEvent struct {
	TextDelta      string
	HasTextDelta   bool
	ToolCallAdded  *schema.ToolCall
	Completed      bool
	CompletedBody  *responsesCompletedBody
	Unrecognized   bool
	RawForSnapshot string // set when the frame carries no "type" at all
}

type responsesCompletedBody struct {
	ID           string               `json:"id"`
	Output       []schema.ResponseOutputItem `json:"output"`
	FinishReason string               `json:"finish_reason"`
	Usage        *schema.Usage        `json:"usage"`
}

type responsesFrame struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Item  *struct {
		Type      string `json:"type"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"item"`
	Response *struct {
		Status string `json:"status"`
		responsesCompletedBody
	} `json:"response"`
}

// ParseResponsesData parses one "data:" payload from a responses-shaped
// stream per SPEC_FULL §4.4. When the frame carries no "type" and no
// completed "response" object, it is returned as Unrecognized with
// RawForSnapshot set so the caller (Yandex's cumulative-snapshot
// handling) can inspect it directly.
func ParseResponsesData(data string) (ResponsesEvent, error) {
	var frame responsesFrame
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return ResponsesEvent{}, err
	}

	switch frame.Type {
	case ResponsesEventOutputTextDelta:
		return ResponsesEvent{TextDelta: frame.Delta, HasTextDelta: true}, nil
	case ResponsesEventItemAdded:
		if frame.Item != nil && frame.Item.Type == "function_call" {
			return ResponsesEvent{ToolCallAdded: &schema.ToolCall{
				ID:   frame.Item.CallID,
				Type: "function",
				Function: schema.ToolFunction{
					Name:      frame.Item.Name,
					Arguments: frame.Item.Arguments,
				},
			}}, nil
		}
		return ResponsesEvent{}, nil
	case ResponsesEventCompleted:
		body := responsesCompletedBody{}
		if frame.Response != nil {
			body = frame.Response.responsesCompletedBody
		}
		return ResponsesEvent{Completed: true, CompletedBody: &body}, nil
	}

	if frame.Response != nil && frame.Response.Status == "completed" {
		body := frame.Response.responsesCompletedBody
		return ResponsesEvent{Completed: true, CompletedBody: &body}, nil
	}

	if frame.Type != "" {
		return ResponsesEvent{}, nil
	}
	return ResponsesEvent{Unrecognized: true, RawForSnapshot: data}, nil
}

// YandexSnapshotDelta implements the cumulative-snapshot exception:
// Yandex frames without a "type" may carry the full response text so
// far rather than an incremental delta. If the new snapshot extends
// the accumulated text, the suffix is returned as a delta; otherwise
// the snapshot is treated as a reset and returned whole with reset=true.
func YandexSnapshotDelta(accumulated, snapshot string) (delta string, reset bool) {
	if strings.HasPrefix(snapshot, accumulated) {
		return snapshot[len(accumulated):], false
	}
	return snapshot, true
}
