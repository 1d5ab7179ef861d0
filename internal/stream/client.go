package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/convert"
	"github.com/buildwithtrace/trace-agent/internal/executor"
	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// Timeouts per endpoint class.
const (
	streamTotalTimeout   = 300 * time.Second
	streamConnectTimeout = 120 * time.Second
	apiTimeout           = 30 * time.Second
	quotaTimeout         = 10 * time.Second
	stopPollInterval     = 100 * time.Millisecond
)

// ToolRunner executes backend-requested tools. *executor.Executor is the
// production implementation.
type ToolRunner interface {
	Execute(ctx context.Context, toolName string, args json.RawMessage, filePath, nativePath string) executor.Result
}

// ChatRequest carries one user turn.
type ChatRequest struct {
	Message        string
	SessionID      string
	ConversationID string
	Mode           string // plan, ask or agent
	AppType        string
	FilePath       string // trace file attached as context, optional
	NativePath     string // its native counterpart
	AuthToken      string
	RefreshToken   string
}

// Client streams chat turns against the backend. At most one stream may
// be active per client.
type Client struct {
	baseURL   string
	runner    ToolRunner
	converter convert.Converter

	streamClient *http.Client
	apiClient    *http.Client
	quotaClient  *http.Client

	streaming     atomic.Bool
	stopRequested atomic.Bool

	// EventCallback receives every decoded event, including the rewritten
	// file_edit events produced after tool execution.
	EventCallback func(Event)
}

// NewClient builds a streaming client for the given backend URL.
func NewClient(baseURL string, runner ToolRunner, converter convert.Converter) *Client {
	dialer := &net.Dialer{Timeout: streamConnectTimeout}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		runner:    runner,
		converter: converter,
		streamClient: &http.Client{
			Timeout:   streamTotalTimeout,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
		apiClient:   &http.Client{Timeout: apiTimeout},
		quotaClient: &http.Client{Timeout: quotaTimeout},
	}
}

// IsStreaming reports whether a stream is currently active.
func (c *Client) IsStreaming() bool { return c.streaming.Load() }

// StopStream requests cooperative cancellation of the active stream.
func (c *Client) StopStream() {
	c.stopRequested.Store(true)
	logging.Stream("stop requested")
}

// StreamChat performs one turn: composes the request, consumes the SSE
// response, executes tool calls inline, and returns the terminal result.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) StreamResult {
	result := StreamResult{Status: StatusSuccess}

	if !c.streaming.CompareAndSwap(false, true) {
		result.Status = StatusError
		result.Error = "a stream is already active"
		return result
	}
	defer c.streaming.Store(false)
	c.stopRequested.Store(false)

	payload := c.composePayload(ctx, req)
	body, err := json.Marshal(payload)
	if err != nil {
		result.Status = StatusError
		result.Error = fmt.Sprintf("failed to encode request: %v", err)
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, streamTotalTimeout)
	defer cancel()

	// Watchdog: turn the stop flag into a context cancel so the transfer
	// aborts within one poll interval.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		ticker := time.NewTicker(stopPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-ticker.C:
				if c.stopRequested.Load() {
					cancel()
					return
				}
			}
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/stream", bytes.NewReader(body))
	if err != nil {
		result.Status = StatusError
		result.Error = fmt.Sprintf("failed to build request: %v", err)
		return result
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}

	logging.Stream("POST /chat/stream session=%s mode=%s", req.SessionID, req.Mode)
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		if c.stopRequested.Load() {
			result.Status = StatusStopped
			return result
		}
		result.Status = StatusError
		result.Error = fmt.Sprintf("HTTP request failed: %v", err)
		return result
	}
	defer resp.Body.Close()

	// Error statuses carry a JSON body, not an event stream.
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		applyHTTPStatus(&result, resp.StatusCode, detail)
		return result
	}

	c.consumeStream(ctx, resp.Body, req, &result)

	if c.stopRequested.Load() {
		result.Status = StatusStopped
	}
	logging.Stream("stream finished status=%s events=%d", result.Status, result.EventCount)
	return result
}

// composePayload builds the /chat/stream body, attaching file content
// when a file path is supplied.
func (c *Client) composePayload(ctx context.Context, req ChatRequest) map[string]any {
	payload := map[string]any{
		"message":    req.Message,
		"session_id": req.SessionID,
		"app_type":   req.AppType,
		"mode":       req.Mode,
	}
	if req.ConversationID != "" {
		payload["conversation_id"] = req.ConversationID
	}
	if req.FilePath == "" {
		return payload
	}

	payload["file_path"] = req.FilePath
	payload["project_dir"] = filepath.Dir(req.FilePath)

	c.ensureTraceExists(ctx, req)

	data, err := os.ReadFile(req.FilePath)
	if err != nil {
		logging.StreamWarn("could not attach %s: %v", req.FilePath, err)
		return payload
	}
	content := string(data)
	payload["total_lines"] = strings.Count(content, "\n")
	if req.AppType == executor.AppPCB {
		payload["pcb_content"] = content
	} else {
		payload["schematic_content"] = content
	}
	return payload
}

// ensureTraceExists regenerates a missing or empty trace file from its
// native counterpart before attaching it as context.
func (c *Client) ensureTraceExists(ctx context.Context, req ChatRequest) {
	if info, err := os.Stat(req.FilePath); err == nil && info.Size() > 0 {
		return
	}
	if req.NativePath == "" || c.converter == nil {
		return
	}
	if _, err := os.Stat(req.NativePath); err != nil {
		return
	}

	from, to := convert.FormatsFor(req.FilePath)
	// Native→trace runs the converter in the reverse direction.
	convRes := c.converter.Convert(ctx, convert.Request{
		From:   to,
		To:     from,
		Input:  req.NativePath,
		Output: req.FilePath,
	})
	if !convRes.Success {
		logging.StreamWarn("failed to regenerate %s: %s", req.FilePath, convRes.Error)
	}
}

// consumeStream reads the SSE body chunk by chunk, decoding and
// dispatching events until EOF, cancellation, or the stop flag.
func (c *Client) consumeStream(ctx context.Context, body io.Reader, req ChatRequest, result *StreamResult) {
	decoder := &sseDecoder{}
	chunk := make([]byte, 4096)

	for {
		if c.stopRequested.Load() {
			return
		}
		n, err := body.Read(chunk)
		if n > 0 {
			for _, event := range decoder.feed(chunk[:n]) {
				if c.stopRequested.Load() {
					return
				}
				c.dispatch(ctx, event, req, result)
			}
		}
		if err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logging.StreamWarn("stream read error: %v", err)
			}
			return
		}
	}
}

// dispatch handles one event: accumulate text, run tools, track the
// terminal state, and forward to the subscriber.
func (c *Client) dispatch(ctx context.Context, event Event, req ChatRequest, result *StreamResult) {
	result.EventCount++

	if event.Type == EventTextDelta {
		result.Response += event.Content
	}

	if event.Type == EventToolCall && c.runner != nil {
		event = c.runTool(ctx, event, req, result)
	}

	switch event.Type {
	case EventFileEdit:
		if event.FileModified {
			result.FileModified = true
		}
	case EventDone:
		if event.ConversationID != "" {
			result.ConversationID = event.ConversationID
		}
		if event.VersionID != "" {
			result.VersionID = event.VersionID
		}
		if event.FileModified {
			result.FileModified = true
		}
		if event.Error != "" {
			result.Status = StatusError
			result.Error = event.Error
		}
	case EventError:
		result.Status = StatusError
		result.Error = event.Error
	case EventAuthError:
		result.Status = StatusAuthError
		result.Error = event.Error
	}

	if c.EventCallback != nil {
		c.EventCallback(event)
	}
}

// runTool executes a tool call and submits its result. Mutating tools
// come back to the subscriber as file_edit events carrying diff
// metadata so the UI can choose incremental refresh or full reload.
func (c *Client) runTool(ctx context.Context, event Event, req ChatRequest, result *StreamResult) Event {
	toolRes := c.runner.Execute(ctx, event.ToolName, event.ToolArgs, req.FilePath, req.NativePath)
	if toolRes.FileModified {
		result.FileModified = true
	}

	if event.ToolCallID != "" {
		message := toolRes.ResultText
		if toolRes.ConversionLogs != "" {
			message += "\n\n=== Conversion Logs ===\n" + toolRes.ConversionLogs
		}
		if err := c.SubmitToolResult(ctx, req.SessionID, event.ToolCallID, message, req.AuthToken); err != nil {
			logging.StreamWarn("tool result submission failed: %v", err)
		}
	}

	if event.ToolName == "write" || event.ToolName == "search_replace" {
		event.Type = EventFileEdit
		event.FileModified = toolRes.FileModified
		event.Content = toolRes.ResultText
		event.DiffInfo = toolRes.DiffInfo
		if toolRes.DiffInfo != nil && toolRes.DiffInfo.IsSimple {
			event.DiffType = "incremental"
		} else {
			event.DiffType = "full_reload"
		}
	}
	return event
}

// applyHTTPStatus maps an HTTP error status onto the result, preferring
// the server's detail message when the body carries one.
func applyHTTPStatus(result *StreamResult, status int, body []byte) {
	message := errorDetail(body)
	switch status {
	case http.StatusUnauthorized:
		result.Status = StatusAuthError
		result.Error = firstNonEmpty(message, "Authentication failed. Token may have expired.")
	case http.StatusPaymentRequired:
		result.Status = StatusQuotaExceeded
		result.Error = firstNonEmpty(message, "You've reached your plan limit. Upgrade your plan to continue.")
	case http.StatusForbidden:
		result.Status = StatusPlanRestricted
		result.Error = firstNonEmpty(message, "This feature requires a paid plan. Upgrade to access.")
	default:
		result.Status = StatusError
		result.Error = firstNonEmpty(message, fmt.Sprintf("Server error: HTTP %d", status))
	}
}

// errorDetail pulls detail.message or a detail string out of an error
// response body.
func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(envelope.Detail, &asString); err == nil {
		return asString
	}
	var asObject struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(envelope.Detail, &asObject); err == nil {
		return asObject.Message
	}
	return ""
}
