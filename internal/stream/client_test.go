package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buildwithtrace/trace-agent/internal/executor"
	"github.com/buildwithtrace/trace-agent/internal/trace"
)

// fakeRunner answers tool calls with canned results.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []string
	result executor.Result
}

func (r *fakeRunner) Execute(_ context.Context, toolName string, _ json.RawMessage, _, _ string) executor.Result {
	r.mu.Lock()
	r.calls = append(r.calls, toolName)
	r.mu.Unlock()
	return r.result
}

func sseBody(events ...string) string {
	body := ""
	for _, e := range events {
		body += "data: " + e + "\n\n"
	}
	return body
}

func TestStreamChatHappyPath(t *testing.T) {
	var gotPayload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/stream", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"status","content":"thinking"}`,
			`{"type":"text_delta","content":"Hello "}`,
			`{"type":"text_delta","content":"world"}`,
			`{"type":"done","response":"Hello world","conversation_id":"conv-7","version_id":"v-3"}`,
		))
	}))
	defer srv.Close()

	var events []Event
	c := NewClient(srv.URL, nil, nil)
	c.EventCallback = func(e Event) { events = append(events, e) }

	res := c.StreamChat(context.Background(), ChatRequest{
		Message:   "hi",
		SessionID: "sess-1",
		Mode:      "agent",
		AppType:   executor.AppSchematic,
		AuthToken: "tok-1",
	})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "Hello world", res.Response)
	assert.Equal(t, "conv-7", res.ConversationID)
	assert.Equal(t, "v-3", res.VersionID)
	assert.Equal(t, 4, res.EventCount)
	assert.Len(t, events, 4)

	assert.Equal(t, "hi", gotPayload["message"])
	assert.Equal(t, "sess-1", gotPayload["session_id"])
	assert.Equal(t, "agent", gotPayload["mode"])
	assert.NotContains(t, gotPayload, "conversation_id")
}

func TestStreamChatToolRoundTrip(t *testing.T) {
	var toolResult map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/chat/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, sseBody(
				`{"type":"tool_call","tool_name":"search_replace","tool_call_id":"tc-1","tool_args":{"old_string":"a","new_string":"b"}}`,
				`{"type":"done","response":"edited","file_modified":true}`,
			))
		case "/tools/result":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&toolResult))
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	runner := &fakeRunner{result: executor.Result{
		ResultText:     "Replaced 1 occurrence(s)",
		Success:        true,
		FileModified:   true,
		DiffInfo:       &trace.DiffResult{IsSimple: true, ComplexityReason: "Single element change"},
		ConversionLogs: "converter said hi",
	}}

	var events []Event
	c := NewClient(srv.URL, runner, nil)
	c.EventCallback = func(e Event) { events = append(events, e) }

	res := c.StreamChat(context.Background(), ChatRequest{
		SessionID: "sess-2", Mode: "agent", AppType: executor.AppSchematic, AuthToken: "tok",
	})

	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.FileModified)
	assert.Equal(t, []string{"search_replace"}, runner.calls)

	// Tool result reached the backend with conversion logs appended.
	require.NotNil(t, toolResult)
	assert.Equal(t, "sess-2", toolResult["session_id"])
	assert.Equal(t, "tc-1", toolResult["tool_call_id"])
	assert.Contains(t, toolResult["result"], "Replaced 1 occurrence(s)")
	assert.Contains(t, toolResult["result"], "=== Conversion Logs ===")
	assert.Contains(t, toolResult["result"], "converter said hi")

	// The tool_call event was rewritten as file_edit with diff metadata.
	require.Len(t, events, 2)
	assert.Equal(t, EventFileEdit, events[0].Type)
	assert.True(t, events[0].FileModified)
	assert.Equal(t, "incremental", events[0].DiffType)
	require.NotNil(t, events[0].DiffInfo)
}

func TestStreamChatComplexDiffForcesFullReload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/stream" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(
			`{"type":"tool_call","tool_name":"write","tool_call_id":"tc-2","tool_args":{}}`,
			`{"type":"done","response":""}`,
		))
	}))
	defer srv.Close()

	runner := &fakeRunner{result: executor.Result{
		ResultText:   "rewrote everything",
		Success:      true,
		FileModified: true,
		DiffInfo:     &trace.DiffResult{IsSimple: false, ComplexityReason: "Too many changes (9)"},
	}}

	var events []Event
	c := NewClient(srv.URL, runner, nil)
	c.EventCallback = func(e Event) { events = append(events, e) }

	c.StreamChat(context.Background(), ChatRequest{SessionID: "s", Mode: "agent", AppType: executor.AppSchematic})
	require.NotEmpty(t, events)
	assert.Equal(t, EventFileEdit, events[0].Type)
	assert.Equal(t, "full_reload", events[0].DiffType)
}

func TestStreamChatHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		status     int
		body       string
		wantStatus string
		wantError  string
	}{
		{http.StatusUnauthorized, `{"detail":"bad token"}`, StatusAuthError, "bad token"},
		{http.StatusPaymentRequired, `{"detail":{"message":"quota gone"}}`, StatusQuotaExceeded, "quota gone"},
		{http.StatusForbidden, ``, StatusPlanRestricted, "This feature requires a paid plan. Upgrade to access."},
		{http.StatusInternalServerError, `not json`, StatusError, "Server error: HTTP 500"},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("http_%d", tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, nil, nil)
			res := c.StreamChat(context.Background(), ChatRequest{SessionID: "s", Mode: "ask", AppType: executor.AppSchematic})
			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, tc.wantError, res.Error)
		})
	}
}

func TestStreamChatErrorEventsSetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody(`{"type":"auth_error","error":"token expired"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	res := c.StreamChat(context.Background(), ChatRequest{SessionID: "s", Mode: "ask", AppType: executor.AppSchematic})
	assert.Equal(t, StatusAuthError, res.Status)
	assert.Equal(t, "token expired", res.Error)
}

func TestStopStreamCancels(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, sseBody(`{"type":"text_delta","content":"first"}`))
		flusher.Flush()
		close(started)
		// Keep the stream open; the client should abort it.
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	done := make(chan StreamResult, 1)
	go func() {
		done <- c.StreamChat(context.Background(), ChatRequest{SessionID: "s", Mode: "agent", AppType: executor.AppSchematic})
	}()

	<-started
	c.StopStream()

	select {
	case res := <-done:
		assert.Equal(t, StatusStopped, res.Status)
		assert.Equal(t, "first", res.Response)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
	}
}

func TestStreamChatRejectsConcurrentStreams(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, sseBody(`{"type":"done","response":"late"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	first := make(chan StreamResult, 1)
	go func() {
		first <- c.StreamChat(context.Background(), ChatRequest{SessionID: "a", Mode: "agent", AppType: executor.AppSchematic})
	}()

	require.Eventually(t, c.IsStreaming, 2*time.Second, 10*time.Millisecond)

	second := c.StreamChat(context.Background(), ChatRequest{SessionID: "b", Mode: "agent", AppType: executor.AppSchematic})
	assert.Equal(t, StatusError, second.Status)
	assert.Contains(t, second.Error, "already active")

	close(release)
	<-first
}

func TestGetUserQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/quota", r.URL.Path)
		require.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"success":true,"allowed":true,"plan":"pro","daily_cost_used":1.25,"is_trial":false}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, nil)
	info, err := c.GetUserQuota(context.Background(), "tok")
	require.NoError(t, err)
	assert.True(t, info.Allowed)
	assert.Equal(t, "pro", info.Plan)
	require.NotNil(t, info.DailyCostUsed)
	assert.InDelta(t, 1.25, *info.DailyCostUsed, 1e-9)
	assert.Nil(t, info.CreditsRemaining)
}

func TestGetUserQuotaRequiresToken(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil, nil)
	_, err := c.GetUserQuota(context.Background(), "")
	assert.Error(t, err)
}

func TestVersionEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/schematic/version":
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(t, "before autoroute", payload["description"])
			fmt.Fprint(w, `{"version_id":"v-42"}`)
		case "/schematic/versions":
			fmt.Fprint(w, `{"versions":[{"version_id":"v-42"}]}`)
		case "/schematic/restore/v-42":
			fmt.Fprint(w, `{"schematic_content":"comp R1 Device:R\n"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	filePath := dir + "/main.trace_sch"

	c := NewClient(srv.URL, nil, nil)
	id, err := c.SaveVersion(context.Background(), filePath, "before autoroute", "conv-1", "tok", "comp R1\n")
	require.NoError(t, err)
	assert.Equal(t, "v-42", id)

	versions, err := c.ListVersions(context.Background(), filePath, "tok", 10)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"version_id":"v-42"}]`, string(versions))

	require.NoError(t, c.RestoreVersion(context.Background(), "v-42", filePath, "tok"))
	assert.FileExists(t, filePath)
}

func TestSaveVersionRequiresAuth(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil, nil)
	_, err := c.SaveVersion(context.Background(), "f.trace_sch", "d", "", "", "content")
	assert.Error(t, err)
}
