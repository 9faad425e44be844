// Package stream frames Messages API server-sent events and synthesizes an
// event sequence from a buffered response.
package stream

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mihaisavezi/sider-gateway/internal/types"
)

const ContentTypeEventStream = "text/event-stream"

// Event is one server-sent event.
type Event struct {
	Type string
	Data any
	// Paced events are preceded by a pacer wait.
	Paced bool
}

// IsStreamingContentType checks if the content type indicates streaming.
func IsStreamingContentType(contentType string) bool {
	return strings.HasPrefix(contentType, ContentTypeEventStream) || strings.Contains(contentType, "stream")
}

// FormatSSEEvent formats data as a server-sent event.
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}

	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, jsonData))
}

// FormatRawEvent frames an already encoded payload. The event name is taken
// from the payload's "type" field.
func FormatRawEvent(data []byte) []byte {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.Type == "" {
		return []byte(fmt.Sprintf("data: %s\n\n", data))
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", head.Type, data))
}

var whitespaceSplit = regexp.MustCompile(`\S+|\s+`)

// Tokenize splits text into alternating word and whitespace runs. Joining
// the result reproduces text exactly.
func Tokenize(text string) []string {
	return whitespaceSplit.FindAllString(text, -1)
}

// Events turns a complete response into the Messages API event sequence:
// message_start, one block per content entry, message_delta, message_stop.
// Text blocks get one paced delta per token.
func Events(resp *types.ChatResponse) []Event {
	start := *resp
	start.Content = []types.ContentOut{}
	start.StopReason = nil
	start.StopSequence = nil
	start.SiderSession = nil
	start.Usage = types.Usage{InputTokens: resp.Usage.InputTokens}

	events := []Event{{
		Type: "message_start",
		Data: map[string]any{"type": "message_start", "message": start},
	}}

	for i, block := range resp.Content {
		events = append(events, blockEvents(i, block)...)
	}

	stopReason := types.StopReasonEndTurn
	if resp.StopReason != nil {
		stopReason = *resp.StopReason
	}

	events = append(events,
		Event{
			Type: "message_delta",
			Data: map[string]any{
				"type": "message_delta",
				"delta": map[string]any{
					"stop_reason":   stopReason,
					"stop_sequence": resp.StopSequence,
				},
				"usage": map[string]any{
					"output_tokens": resp.Usage.OutputTokens,
				},
			},
		},
		Event{
			Type: "message_stop",
			Data: map[string]any{"type": "message_stop"},
		},
	)

	return events
}

func blockEvents(index int, block types.ContentOut) []Event {
	var startBlock map[string]any
	var deltas []Event

	switch block.Type {
	case types.BlockToolUse:
		startBlock = map[string]any{
			"type":  types.BlockToolUse,
			"id":    block.ID,
			"name":  block.Name,
			"input": map[string]any{},
		}
		input := string(block.Input)
		if input == "" {
			input = "{}"
		}
		deltas = append(deltas, Event{
			Type: "content_block_delta",
			Data: map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": input},
			},
		})
	case "thinking":
		startBlock = map[string]any{"type": "thinking", "thinking": ""}
		deltas = append(deltas, Event{
			Type: "content_block_delta",
			Data: map[string]any{
				"type":  "content_block_delta",
				"index": index,
				"delta": map[string]any{"type": "thinking_delta", "thinking": block.Thinking},
			},
		})
		if block.Signature != "" {
			deltas = append(deltas, Event{
				Type: "content_block_delta",
				Data: map[string]any{
					"type":  "content_block_delta",
					"index": index,
					"delta": map[string]any{"type": "signature_delta", "signature": block.Signature},
				},
			})
		}
	default:
		startBlock = map[string]any{"type": types.BlockText, "text": ""}
		for _, tok := range Tokenize(block.Text) {
			deltas = append(deltas, Event{
				Type: "content_block_delta",
				Data: map[string]any{
					"type":  "content_block_delta",
					"index": index,
					"delta": map[string]any{"type": "text_delta", "text": tok},
				},
				Paced: true,
			})
		}
	}

	events := make([]Event, 0, len(deltas)+2)
	events = append(events, Event{
		Type: "content_block_start",
		Data: map[string]any{
			"type":          "content_block_start",
			"index":         index,
			"content_block": startBlock,
		},
	})
	events = append(events, deltas...)
	events = append(events, Event{
		Type: "content_block_stop",
		Data: map[string]any{"type": "content_block_stop", "index": index},
	})
	return events
}
