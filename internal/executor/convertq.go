package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/convert"
	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// queueConversion records a trace→native conversion request. Only the
// latest pair is kept; a burst of edits collapses to one conversion.
func (e *Executor) queueConversion(tracePath, nativePath string) {
	e.convMu.Lock()
	defer e.convMu.Unlock()
	e.pending = pendingConversion{
		tracePath:   tracePath,
		nativePath:  nativePath,
		lastRequest: time.Now(),
		pending:     true,
	}
	logging.ConvertDebug("queued conversion %s -> %s", tracePath, nativePath)
}

// ConversionPending reports whether a conversion is waiting to run.
func (e *Executor) ConversionPending() bool {
	e.convMu.Lock()
	defer e.convMu.Unlock()
	return e.pending.pending
}

// FlushPendingConversion runs the queued conversion if the debounce
// window has elapsed, or immediately when force is set. Returns true
// only when a conversion ran and succeeded. The converter runs outside
// the queue lock so new edits can queue while it works.
func (e *Executor) FlushPendingConversion(ctx context.Context, force bool) bool {
	e.convMu.Lock()
	if !e.pending.pending {
		e.convMu.Unlock()
		return false
	}
	if !force && time.Since(e.pending.lastRequest) < e.debounce {
		e.convMu.Unlock()
		return false
	}
	tracePath := e.pending.tracePath
	nativePath := e.pending.nativePath
	e.pending = pendingConversion{}
	e.convMu.Unlock()

	return e.runConversion(ctx, tracePath, nativePath)
}

func (e *Executor) runConversion(ctx context.Context, tracePath, nativePath string) bool {
	if e.converter == nil {
		e.recordConversion(conversionOutcome{succeeded: false, errText: "no converter configured"})
		return false
	}

	from, to := convert.FormatsFor(tracePath)
	req := convert.Request{
		From:   from,
		To:     to,
		Input:  tracePath,
		Output: nativePath,
	}
	// Merging into an existing native file preserves layout data the
	// trace format does not carry.
	if fileExists(nativePath) {
		if strings.HasSuffix(tracePath, ".trace_pcb") {
			req.ExistingPcb = nativePath
		} else {
			req.ExistingSch = nativePath
		}
	}

	timer := logging.StartTimer(logging.CategoryConvert, "convert:"+filepath.Base(tracePath))
	result := e.converter.Convert(ctx, req)
	timer.Stop()

	if result.Success {
		logging.Convert("converted %s -> %s", tracePath, nativePath)
		e.recordConversion(conversionOutcome{succeeded: true, output: result.Output})
	} else {
		logging.ConvertError("conversion of %s failed: %s", tracePath, result.Error)
		e.recordConversion(conversionOutcome{succeeded: false, errText: result.Error, output: result.Output})
	}
	return result.Success
}

func (e *Executor) recordConversion(outcome conversionOutcome) {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	e.lastConv = outcome
}

// LastConversionOutput returns the converter's captured stdout/stderr
// from the most recent run.
func (e *Executor) LastConversionOutput() string {
	e.resultMu.Lock()
	defer e.resultMu.Unlock()
	return e.lastConv.output
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
