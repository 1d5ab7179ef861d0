// Package convert invokes the external design-file converter that turns
// native design files into trace files and back. The converter is a
// subprocess with a fixed CLI contract; this package owns argument
// construction, output capture and success checking.
package convert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// Supported conversion formats.
const (
	FormatKicadSch = "kicad_sch"
	FormatTraceSch = "trace_sch"
	FormatKicadPcb = "kicad_pcb"
	FormatTracePcb = "trace_pcb"
)

// DefaultTimeout bounds a single conversion subprocess.
const DefaultTimeout = 60 * time.Second

// Request describes one conversion.
type Request struct {
	From   string // source format
	To     string // destination format
	Input  string // input file path
	Output string // output file path

	// Optional context files forwarded to the converter so it can
	// preserve identifiers across round trips.
	ExistingSch string // --existing-sch
	ExistingPcb string // --existing-pcb
	KicadSch    string // --kicad-sch
}

// Result carries the subprocess outcome. Output holds combined
// stdout+stderr for diagnostics regardless of success.
type Result struct {
	Success bool
	Error   string
	Output  string
}

// Converter is the capability interface the executor and streaming client
// depend on. The subprocess implementation below is the production one;
// tests substitute fakes.
type Converter interface {
	Convert(ctx context.Context, req Request) Result
}

// Subprocess runs conversions through the external converter script.
type Subprocess struct {
	Interpreter string // e.g. python3
	Script      string // converter entry point
	Timeout     time.Duration
}

// NewSubprocess builds a subprocess converter with the default timeout.
func NewSubprocess(interpreter, script string) *Subprocess {
	return &Subprocess{Interpreter: interpreter, Script: script, Timeout: DefaultTimeout}
}

// Convert runs the converter. Success requires both a zero exit code and
// the output file existing on disk afterwards.
func (s *Subprocess) Convert(ctx context.Context, req Request) Result {
	if s.Interpreter == "" || s.Script == "" {
		return Result{Error: "converter not configured"}
	}
	if err := validateFormat(req.From); err != nil {
		return Result{Error: err.Error()}
	}
	if err := validateFormat(req.To); err != nil {
		return Result{Error: err.Error()}
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{s.Script}
	if req.ExistingSch != "" {
		args = append(args, "--existing-sch", req.ExistingSch)
	}
	if req.ExistingPcb != "" {
		args = append(args, "--existing-pcb", req.ExistingPcb)
	}
	if req.KicadSch != "" {
		args = append(args, "--kicad-sch", req.KicadSch)
	}
	args = append(args, "-f", req.From, "-t", req.To, req.Input, req.Output)

	logging.Convert("converting %s -> %s: %s", req.From, req.To, req.Input)
	timer := logging.StartTimer(logging.CategoryConvert, "Convert")
	defer timer.Stop()

	cmd := exec.CommandContext(ctx, s.Interpreter, args...)
	out, err := cmd.CombinedOutput()
	output := string(out)

	if err != nil {
		logging.ConvertError("conversion failed: %v\n%s", err, output)
		return Result{Error: fmt.Sprintf("converter exited with error: %v", err), Output: output}
	}
	if _, statErr := os.Stat(req.Output); statErr != nil {
		logging.ConvertError("converter reported success but output missing: %s", req.Output)
		return Result{Error: fmt.Sprintf("converter produced no output file: %s", req.Output), Output: output}
	}

	return Result{Success: true, Output: output}
}

func validateFormat(format string) error {
	switch format {
	case FormatKicadSch, FormatTraceSch, FormatKicadPcb, FormatTracePcb:
		return nil
	}
	return fmt.Errorf("unsupported conversion format: %q", format)
}

// TracePathFor maps a native file path to its trace variant, and
// NativePathFor the reverse. Unknown extensions return "".
func TracePathFor(nativePath string) string {
	switch {
	case hasExt(nativePath, ".kicad_sch"):
		return trimExt(nativePath, ".kicad_sch") + ".trace_sch"
	case hasExt(nativePath, ".kicad_pcb"):
		return trimExt(nativePath, ".kicad_pcb") + ".trace_pcb"
	}
	return ""
}

// NativePathFor maps a trace file path to its native variant.
func NativePathFor(tracePath string) string {
	switch {
	case hasExt(tracePath, ".trace_sch"):
		return trimExt(tracePath, ".trace_sch") + ".kicad_sch"
	case hasExt(tracePath, ".trace_pcb"):
		return trimExt(tracePath, ".trace_pcb") + ".kicad_pcb"
	}
	return ""
}

// FormatsFor returns the (from, to) formats for a trace→native conversion
// of the given trace path. Reversed arguments give native→trace.
func FormatsFor(tracePath string) (from, to string) {
	if hasExt(tracePath, ".trace_pcb") {
		return FormatTracePcb, FormatKicadPcb
	}
	return FormatTraceSch, FormatKicadSch
}

func hasExt(path, ext string) bool {
	return len(path) > len(ext) && path[len(path)-len(ext):] == ext
}

func trimExt(path, ext string) string {
	return path[:len(path)-len(ext)]
}
