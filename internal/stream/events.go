// Package stream talks to the chat backend: it opens the server-sent
// event stream for a turn, decodes events, runs requested tools through
// the executor, and exposes the non-streaming version and quota
// endpoints.
package stream

import (
	"encoding/json"

	"github.com/buildwithtrace/trace-agent/internal/trace"
)

// EventType names the wire event kinds.
type EventType string

const (
	EventTextDelta       EventType = "text_delta"
	EventStatus          EventType = "status"
	EventTitleUpdate     EventType = "title_update"
	EventModeTransition  EventType = "mode_transition"
	EventPhaseUpdate     EventType = "phase_update"
	EventToolCall        EventType = "tool_call"
	EventFileEdit        EventType = "file_edit"
	EventProgress        EventType = "progress"
	EventError           EventType = "error"
	EventAuthError       EventType = "auth_error"
	EventDone            EventType = "done"
	EventVersionsList    EventType = "versions_list"
	EventVersionSaved    EventType = "version_saved"
	EventVersionRestored EventType = "version_restored"
)

// Event is one decoded stream event. Fields are populated per type;
// Data carries the raw JSON for consumers that need the full payload.
type Event struct {
	Type           EventType
	Content        string
	ConversationID string
	VersionID      string
	Error          string

	// mode_transition
	FromMode string
	ToMode   string
	Reason   string

	// tool_call
	ToolName   string
	ToolCallID string
	ToolArgs   json.RawMessage

	// file_edit
	FileModified bool
	DiffInfo     *trace.DiffResult
	DiffType     string // incremental or full_reload

	Data json.RawMessage
}

// Stream terminal statuses.
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusAuthError      = "auth_error"
	StatusQuotaExceeded  = "quota_exceeded"
	StatusPlanRestricted = "plan_restricted"
	StatusStopped        = "stopped"
)

// StreamResult summarises one completed turn.
type StreamResult struct {
	Status         string
	Response       string
	ConversationID string
	VersionID      string
	FileModified   bool
	Error          string
	EventCount     int
}
