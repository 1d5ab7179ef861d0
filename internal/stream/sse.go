package stream

import (
	"encoding/json"
	"strings"
)

// sseDecoder incrementally splits a byte stream into SSE events. Events
// end at a blank line; within an event, lines starting "data: " carry a
// JSON payload. Anything malformed or of unknown type is dropped.
type sseDecoder struct {
	buf strings.Builder
}

// feed appends a chunk and returns every complete event it closed.
func (d *sseDecoder) feed(chunk []byte) []Event {
	d.buf.Write(chunk)

	data := d.buf.String()
	var events []Event
	for {
		idx := strings.Index(data, "\n\n")
		if idx < 0 {
			break
		}
		block := data[:idx]
		data = data[idx+2:]
		for _, line := range strings.Split(block, "\n") {
			if event, ok := parseSSELine(line); ok {
				events = append(events, event)
			}
		}
	}

	d.buf.Reset()
	d.buf.WriteString(data)
	return events
}

// parseSSELine decodes a single "data: {json}" line into an Event.
func parseSSELine(line string) (Event, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data: ") {
		return Event{}, false
	}
	payload := line[len("data: "):]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Event{}, false
	}

	event := Event{
		Type: EventType(jsonString(raw, "type")),
		Data: json.RawMessage(payload),
	}

	switch event.Type {
	case EventTextDelta:
		event.Content = jsonString(raw, "content")
		event.ConversationID = jsonString(raw, "conversation_id")
	case EventStatus, EventTitleUpdate:
		event.Content = jsonString(raw, "content")
	case EventModeTransition:
		event.Content = jsonString(raw, "content")
		event.FromMode = jsonString(raw, "from_mode")
		event.ToMode = jsonString(raw, "to_mode")
		event.Reason = jsonString(raw, "reason")
	case EventPhaseUpdate:
		event.Content = jsonString(raw, "content")
	case EventToolCall:
		event.ToolName = jsonString(raw, "tool_name")
		event.ToolCallID = jsonString(raw, "tool_call_id")
		event.Content = jsonString(raw, "content")
		if args, ok := raw["tool_args"]; ok {
			event.ToolArgs = args
		}
	case EventFileEdit:
		event.FileModified = jsonBool(raw, "success")
		event.Content = jsonString(raw, "message")
	case EventProgress, EventVersionsList:
		// Raw payload only.
	case EventError:
		event.Error = firstNonEmpty(jsonString(raw, "error"), jsonString(raw, "content"), "Unknown error")
	case EventAuthError:
		event.Error = firstNonEmpty(jsonString(raw, "error"), jsonString(raw, "content"), "Authentication failed")
	case EventDone:
		event.Content = jsonString(raw, "response")
		event.FileModified = jsonBool(raw, "file_modified")
		event.ConversationID = jsonString(raw, "conversation_id")
		event.VersionID = jsonString(raw, "version_id")
		event.Error = jsonString(raw, "error")
	case EventVersionSaved:
		event.VersionID = jsonString(raw, "version_id")
	case EventVersionRestored:
		event.FileModified = jsonBool(raw, "success")
	default:
		return Event{}, false
	}

	return event, true
}

func jsonString(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func jsonBool(raw map[string]json.RawMessage, key string) bool {
	v, ok := raw[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(v, &b); err != nil {
		return false
	}
	return b
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
