package executor

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// hostJSON runs a document-host callback that returns a JSON payload.
// The call runs on its own goroutine so a stuck UI thread cannot hang
// the tool loop past the guard timeout.
func (e *Executor) hostJSON(name string, fn func() (json.RawMessage, error)) Result {
	if e.docHost == nil {
		return failure("%s unavailable: %v", name, ErrNoHost)
	}

	type outcome struct {
		payload json.RawMessage
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		payload, err := fn()
		done <- outcome{payload, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return failure("%s failed: %v", name, out.err)
		}
		return success("%s", string(out.payload))
	case <-time.After(e.hostTimeout):
		logging.ToolsWarn("%s did not answer within %s", name, e.hostTimeout)
		return failure("%s: %v", name, ErrHostTimeout)
	}
}

// executeTakeSnapshot asks the host to render the current view. The
// payload is a base64-encoded SVG.
func (e *Executor) executeTakeSnapshot() Result {
	if e.docHost == nil {
		return failure("take_snapshot unavailable: %v", ErrNoHost)
	}

	done := make(chan struct {
		svg string
		err error
	}, 1)
	go func() {
		svg, err := e.docHost.TakeSnapshot()
		done <- struct {
			svg string
			err error
		}{svg, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return failure("take_snapshot failed: %v", out.err)
		}
		return success("%s", out.svg)
	case <-time.After(e.hostTimeout):
		return failure("take_snapshot: %v", ErrHostTimeout)
	}
}

// executeAutoroute delegates board routing to the host. Only PCB
// sessions can route; the board counts as modified only when the host
// reports success.
func (e *Executor) executeAutoroute(rawArgs json.RawMessage) Result {
	if e.appType != AppPCB {
		return failure("autoroute is only available in the PCB editor")
	}
	if e.docHost == nil {
		return failure("autoroute unavailable: %v", ErrNoHost)
	}

	var wrapper struct {
		Params json.RawMessage `json:"params"`
	}
	if len(rawArgs) > 0 {
		if err := json.Unmarshal(rawArgs, &wrapper); err != nil {
			return failure("invalid autoroute arguments: %v", err)
		}
	}
	if len(wrapper.Params) == 0 {
		wrapper.Params = json.RawMessage("{}")
	}
	input, _ := json.Marshal(map[string]json.RawMessage{"params": wrapper.Params})

	payload, err := e.docHost.Autoroute(input)
	if err != nil {
		return failure("autoroute failed: %v", err)
	}

	var status struct {
		Success bool `json:"success"`
	}
	_ = json.Unmarshal(payload, &status)

	res := Result{ResultText: string(payload), Success: status.Success}
	res.FileModified = status.Success
	return res
}

// executeZipGerberFiles collects the project's .gbr and .drl outputs
// into <projectdir>_gerbers.zip next to them.
func (e *Executor) executeZipGerberFiles(defaultPath string) Result {
	projectDir := filepath.Dir(defaultPath)
	if projectDir == "" || projectDir == "." {
		return failure("could not determine project directory from %q", defaultPath)
	}

	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return failure("could not open project directory %s: %v", projectDir, err)
	}

	var toZip []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".gbr" && ext != ".drl" {
			continue
		}
		full := filepath.Join(projectDir, entry.Name())
		if _, err := e.validatePath(full, "read"); err != nil {
			continue
		}
		toZip = append(toZip, full)
	}
	if len(toZip) == 0 {
		return failure("no .gbr or .drl files found in %s", projectDir)
	}

	base := filepath.Base(projectDir)
	if base == "" || base == string(os.PathSeparator) {
		base = "gerbers"
	}
	zipPath := filepath.Join(projectDir, base+"_gerbers.zip")
	if _, err := e.validatePath(zipPath, "write"); err != nil {
		return failure("invalid zip path: %v", err)
	}

	if err := writeZip(zipPath, toZip); err != nil {
		return failure("failed to create %s: %v", zipPath, err)
	}

	names := make([]string, len(toZip))
	for i, f := range toZip {
		names[i] = filepath.Base(f)
	}
	payload, _ := json.MarshalIndent(map[string]any{
		"success":        true,
		"zip_path":       zipPath,
		"files_included": len(toZip),
		"files":          names,
	}, "", "  ")
	logging.Tools("zipped %d fabrication files into %s", len(toZip), zipPath)
	return success("%s", string(payload))
}

func writeZip(zipPath string, files []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, file := range files {
		src, err := os.Open(file)
		if err != nil {
			continue
		}
		entry, err := zw.Create(filepath.Base(file))
		if err != nil {
			src.Close()
			zw.Close()
			return err
		}
		if _, err := io.Copy(entry, src); err != nil {
			src.Close()
			zw.Close()
			return fmt.Errorf("adding %s: %w", file, err)
		}
		src.Close()
	}
	return zw.Close()
}
