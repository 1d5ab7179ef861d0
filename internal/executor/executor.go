// Package executor runs backend-requested tools against local design
// files. It owns the path sandbox, per-file optimistic concurrency,
// debounced trace→native conversion, and the record of which design
// entities an edit session touched.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/convert"
	"github.com/buildwithtrace/trace-agent/internal/host"
	"github.com/buildwithtrace/trace-agent/internal/logging"
	"github.com/buildwithtrace/trace-agent/internal/trace"
)

// App types. They select which trace file kinds tools operate on.
const (
	AppSchematic = "schematic_editor"
	AppPCB       = "pcb_editor"
)

// ConversionDebounce is how long after the last trace write the pending
// conversion waits before it may run. Rapid successive edits coalesce.
const ConversionDebounce = 200 * time.Millisecond

// DefaultHostTimeout guards calls into the document host (which may block
// on a UI thread).
const DefaultHostTimeout = 30 * time.Second

// Result is the outcome of a single tool execution.
type Result struct {
	ResultText     string
	FileModified   bool
	Success        bool
	DiffInfo       *trace.DiffResult
	ConversionLogs string
}

func failure(format string, args ...any) Result {
	return Result{ResultText: fmt.Sprintf(format, args...), Success: false}
}

func success(format string, args ...any) Result {
	return Result{ResultText: fmt.Sprintf(format, args...), Success: true}
}

// pendingConversion is the debounce slot. It holds the latest pair only;
// older pairs for the same session are superseded, never queued.
type pendingConversion struct {
	tracePath   string
	nativePath  string
	lastRequest time.Time
	pending     bool
}

// conversionOutcome caches the result of the most recent conversion so
// the host can surface converter failures after a stream finishes.
type conversionOutcome struct {
	succeeded bool
	errText   string
	output    string
}

// Executor executes tools for one edit session.
type Executor struct {
	appType   string
	converter convert.Converter
	docHost   host.DocumentHost

	mu          sync.Mutex // guards allowedDirs
	allowedDirs []string

	modifiedMu   sync.Mutex
	modifiedUIDs map[string]struct{}

	convMu  sync.Mutex
	pending pendingConversion

	resultMu sync.Mutex
	lastConv conversionOutcome

	hostTimeout time.Duration
	debounce    time.Duration

	// Called with the canonical path after every successful mutation.
	FileModifiedCallback func(path string)
}

// New creates an executor for the given app type.
func New(appType string, converter convert.Converter) *Executor {
	return &Executor{
		appType:      appType,
		converter:    converter,
		modifiedUIDs: make(map[string]struct{}),
		lastConv:     conversionOutcome{succeeded: true},
		hostTimeout:  DefaultHostTimeout,
		debounce:     ConversionDebounce,
	}
}

// SetDocumentHost attaches the editor capability interface.
func (e *Executor) SetDocumentHost(h host.DocumentHost) { e.docHost = h }

// AppType returns the executor's application type.
func (e *Executor) AppType() string { return e.appType }

// SetAllowedProjectDirs replaces the sandbox directory allow-list. An
// empty list allows any location (development mode); extensions are
// always enforced.
func (e *Executor) SetAllowedProjectDirs(dirs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowedDirs = append([]string(nil), dirs...)
}

// AddAllowedProjectDir adds one directory to the allow-list.
func (e *Executor) AddAllowedProjectDir(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.allowedDirs = append(e.allowedDirs, dir)
}

// Execute runs a tool by name. filePath is the trace file the session is
// editing; nativePath its native counterpart (used for conversion).
// Errors never escape: every outcome is a Result.
func (e *Executor) Execute(ctx context.Context, toolName string, rawArgs json.RawMessage, filePath, nativePath string) Result {
	timer := logging.StartTimer(logging.CategoryTools, "Execute:"+toolName)
	defer timer.Stop()

	args := map[string]any{}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return failure("invalid tool arguments: %v", err)
		}
	}

	logging.Tools("executing %s (file=%s)", toolName, filePath)

	var res Result
	switch toolName {
	case "read_file":
		res = e.executeReadFile(args, filePath)
	case "write":
		res = e.executeWrite(args, filePath, nativePath)
	case "search_replace":
		res = e.executeSearchReplace(args, filePath, nativePath)
	case "grep":
		res = e.executeGrep(args, filePath)
	case "list_dir":
		res = e.executeListDir(args, filePath)
	case "delete_trace_file":
		res = e.executeDeleteTraceFile(args, filePath)
	case "take_snapshot":
		res = e.executeTakeSnapshot()
	case "run_drc", "get_drc_violations":
		res = e.hostJSON("run_drc", func() (json.RawMessage, error) { return e.docHost.RunDRC() })
	case "run_erc", "get_erc_violations":
		res = e.hostJSON("run_erc", func() (json.RawMessage, error) { return e.docHost.RunERC() })
	case "run_annotate", "annotate_schematic":
		res = e.hostJSON("run_annotate", func() (json.RawMessage, error) { return e.docHost.RunAnnotate(rawArgs) })
	case "generate_gerbers":
		res = e.hostJSON("generate_gerbers", func() (json.RawMessage, error) { return e.docHost.GenerateGerbers(rawArgs) })
	case "generate_drill_files", "generate_drill":
		res = e.hostJSON("generate_drill_files", func() (json.RawMessage, error) { return e.docHost.GenerateDrillFiles(rawArgs) })
	case "autoroute":
		res = e.executeAutoroute(rawArgs)
	case "zip_gerber_files", "zip_gerbers":
		res = e.executeZipGerberFiles(filePath)
	default:
		res = failure("unknown tool: %s", toolName)
	}

	if !res.Success {
		logging.ToolsWarn("%s failed: %s", toolName, res.ResultText)
	}
	return res
}

// ModifiedSymbolUUIDs returns a copy of the UUIDs touched this session.
func (e *Executor) ModifiedSymbolUUIDs() []string {
	e.modifiedMu.Lock()
	defer e.modifiedMu.Unlock()
	uids := make([]string, 0, len(e.modifiedUIDs))
	for uid := range e.modifiedUIDs {
		uids = append(uids, uid)
	}
	return uids
}

// ClearModifiedSymbolUUIDs empties the session set. The host calls this
// after post-edit autoplacement.
func (e *Executor) ClearModifiedSymbolUUIDs() {
	e.modifiedMu.Lock()
	defer e.modifiedMu.Unlock()
	e.modifiedUIDs = make(map[string]struct{})
}

func (e *Executor) trackModifiedUIDs(content string) {
	uids := trace.ExtractUIDs(content)
	if len(uids) == 0 {
		return
	}
	e.modifiedMu.Lock()
	defer e.modifiedMu.Unlock()
	for _, uid := range uids {
		e.modifiedUIDs[uid] = struct{}{}
	}
}

// WasLastConversionSuccessful reports the cached outcome of the most
// recent trace→native conversion.
func (e *Executor) WasLastConversionSuccessful() bool {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.lastConv.succeeded
}

// LastConversionError returns the error text of the last failed
// conversion, or "".
func (e *Executor) LastConversionError() string {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.lastConv.errText
}

// ResetConversionState clears conversion tracking before a new session.
func (e *Executor) ResetConversionState() {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	e.lastConv = conversionOutcome{succeeded: true}
}

// argString fetches a string argument with a default.
func argString(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

// argInt fetches an integer argument; JSON numbers arrive as float64.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argBool(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}
