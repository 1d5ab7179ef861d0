package executor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/buildwithtrace/trace-agent/internal/convert"
	"github.com/buildwithtrace/trace-agent/internal/logging"
	"github.com/buildwithtrace/trace-agent/internal/trace"
)

const (
	defaultReadLimit = 1000 // lines returned by read_file when unset
)

// executeReadFile returns a line-numbered slice of the file. Lines are
// prefixed "N|" with 1-based numbering.
func (e *Executor) executeReadFile(args map[string]any, defaultPath string) Result {
	path := e.resolveTargetPath(args, defaultPath)
	if path == "" {
		return e.multiFileError(defaultPath)
	}

	canonical, err := e.validatePath(path, "read")
	if err != nil {
		return failure("%v", err)
	}

	lock := fileLock(canonical)
	lock.RLock()
	data, readErr := os.ReadFile(canonical)
	lock.RUnlock()
	if readErr != nil {
		if errors.Is(readErr, os.ErrNotExist) {
			return failure("file not found: %s", canonical)
		}
		return failure("failed to read %s: %v", canonical, readErr)
	}

	offset := argInt(args, "offset", 0)
	limit := argInt(args, "limit", defaultReadLimit)
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	lines := strings.Split(normalizeLineEndings(string(data)), "\n")
	total := len(lines)
	if offset >= total {
		return success("File has %d lines; offset %d is past the end", total, offset)
	}
	end := offset + limit
	if end > total {
		end = total
	}

	var b strings.Builder
	for i := offset; i < end; i++ {
		fmt.Fprintf(&b, "%d|%s\n", i+1, lines[i])
	}
	b.WriteString(fmt.Sprintf("\n(showing lines %d-%d of %d)", offset+1, end, total))
	return success("%s", b.String())
}

// executeWrite creates or overwrites a file. The write is guarded by the
// same optimistic-concurrency check as search_replace so two sessions
// overwriting the same file serialise cleanly.
func (e *Executor) executeWrite(args map[string]any, defaultPath, nativePath string) Result {
	contents, _ := args["contents"].(string)
	if contents == "" {
		contents, _ = args["content"].(string)
	}
	if strings.TrimSpace(contents) == "" {
		return failure("write requires non-empty contents")
	}

	path := argString(args, "file_path", defaultPath)
	canonical, err := e.validatePath(path, "write")
	if err != nil {
		return failure("%v", err)
	}

	before, hashBefore, readErr := e.readFileWithHash(canonical)
	if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
		return failure("failed to read %s: %v", canonical, readErr)
	}

	conflictContent, err := e.writeFileIfUnchanged(canonical, contents, hashBefore)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return failure("write conflict: file changed since read.\nCurrent content:\n%s", conflictContent)
		}
		return failure("failed to write %s: %v", canonical, err)
	}

	res := success("Wrote %d bytes to %s", len(contents), filepath.Base(canonical))
	res.FileModified = true
	e.afterMutation(canonical, nativePath, before, contents, contents, &res)
	return res
}

// executeSearchReplace performs an exact substring replacement.
func (e *Executor) executeSearchReplace(args map[string]any, defaultPath, nativePath string) Result {
	oldString, _ := args["old_string"].(string)
	newString, _ := args["new_string"].(string)
	replaceAll := argBool(args, "replace_all", false)
	if oldString == "" {
		return failure("search_replace requires old_string")
	}
	if oldString == newString {
		return failure("old_string and new_string are identical")
	}

	path := argString(args, "file_path", defaultPath)
	canonical, err := e.validatePath(path, "write")
	if err != nil {
		return failure("%v", err)
	}

	content, hashBefore, readErr := e.readFileWithHash(canonical)
	if readErr != nil {
		return failure("file not found: %s", canonical)
	}

	// Match against LF-normalised text so CRLF files behave.
	normContent := normalizeLineEndings(content)
	normOld := normalizeLineEndings(oldString)
	normNew := normalizeLineEndings(newString)

	count := strings.Count(normContent, normOld)
	if count == 0 {
		return failure("old_string not found in %s", filepath.Base(canonical))
	}
	if count > 1 && !replaceAll {
		return failure("old_string matches %d locations in %s; pass replace_all or provide more context", count, filepath.Base(canonical))
	}

	var updated string
	replaced := 1
	if replaceAll {
		updated = strings.ReplaceAll(normContent, normOld, normNew)
		replaced = count
	} else {
		updated = strings.Replace(normContent, normOld, normNew, 1)
	}

	// The written file keeps its original line-ending style.
	out := updated
	if strings.Contains(content, "\r\n") {
		out = strings.ReplaceAll(updated, "\n", "\r\n")
	}

	conflictContent, writeErr := e.writeFileIfUnchanged(canonical, out, hashBefore)
	if writeErr != nil {
		if errors.Is(writeErr, ErrConflict) {
			return failure("edit conflict: file changed since read.\nCurrent content:\n%s", conflictContent)
		}
		return failure("failed to write %s: %v", canonical, writeErr)
	}

	res := success("Replaced %d occurrence(s) in %s\n%s",
		replaced, filepath.Base(canonical), trace.RawDiff(normContent, updated))
	res.FileModified = true
	e.afterMutation(canonical, nativePath, content, updated, normNew, &res)
	return res
}

// executeDeleteTraceFile removes a trace file and its paired native file
// after the user confirms through the host.
func (e *Executor) executeDeleteTraceFile(args map[string]any, defaultPath string) Result {
	path := e.resolveTargetPath(args, defaultPath)
	if path == "" {
		return e.multiFileError(defaultPath)
	}

	canonical, err := e.validatePath(path, "delete")
	if err != nil {
		return failure("%v", err)
	}
	if _, statErr := os.Stat(canonical); statErr != nil {
		return failure("file not found: %s", canonical)
	}

	if e.docHost == nil {
		return failure("%v", ErrNoHost)
	}
	confirmed, err := e.awaitConfirmation(filepath.Base(canonical))
	if err != nil {
		return failure("%v", err)
	}
	if !confirmed {
		return failure("deletion of %s cancelled by user", filepath.Base(canonical))
	}

	lock := fileLock(canonical)
	lock.Lock()
	removeErr := os.Remove(canonical)
	lock.Unlock()
	if removeErr != nil {
		return failure("failed to delete %s: %v", canonical, removeErr)
	}

	deleted := []string{filepath.Base(canonical)}
	if native := convert.NativePathFor(canonical); native != "" {
		if _, statErr := os.Stat(native); statErr == nil {
			if err := os.Remove(native); err == nil {
				deleted = append(deleted, filepath.Base(native))
			} else {
				logging.ToolsWarn("deleted %s but not its native pair: %v", canonical, err)
			}
		}
	}

	res := success("Deleted %s", strings.Join(deleted, ", "))
	res.FileModified = true
	return res
}

func (e *Executor) awaitConfirmation(filename string) (bool, error) {
	select {
	case confirmed := <-e.docHost.ConfirmDelete(filename):
		return confirmed, nil
	case <-time.After(e.hostTimeout):
		return false, ErrHostTimeout
	}
}

// afterMutation runs the shared bookkeeping for a successful write:
// structural diff, modified-UID tracking, conversion queueing, and the
// host notification callback. touched is the content the tool actually
// introduced; only its UIDs join the session set, so a one-line
// search_replace does not flag every symbol in the file.
func (e *Executor) afterMutation(canonical, nativePath, before, after, touched string, res *Result) {
	diff := trace.Diff(before, after)
	res.DiffInfo = &diff

	if isTraceFile(canonical) {
		e.trackModifiedUIDs(touched)

		native := nativePath
		if native == "" {
			native = convert.NativePathFor(canonical)
		}
		if native != "" {
			e.queueConversion(canonical, native)
		}
	}

	// Surface a still-standing converter failure so the backend can react.
	if errText := e.LastConversionError(); errText != "" {
		res.ConversionLogs = errText
	}

	if e.FileModifiedCallback != nil {
		e.FileModifiedCallback(canonical)
	}
}

// readFileWithHash reads content under the path's read lock and returns
// it with its change-detection hash. A missing file yields empty content
// and the hash of "" so creating writes can still conflict-check.
func (e *Executor) readFileWithHash(canonical string) (string, string, error) {
	lock := fileLock(canonical)
	lock.RLock()
	defer lock.RUnlock()

	data, err := os.ReadFile(canonical)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", contentHash(""), err
		}
		return "", "", err
	}
	content := string(data)
	return content, contentHash(content), nil
}

// writeFileIfUnchanged commits newContent only if the file still hashes
// to expectedHash. On conflict it returns the current content alongside
// ErrConflict so the caller can hand it back to the backend for
// re-planning. The write itself is atomic: temp file, then rename.
func (e *Executor) writeFileIfUnchanged(canonical, newContent, expectedHash string) (string, error) {
	lock := fileLock(canonical)
	lock.Lock()
	defer lock.Unlock()

	current := ""
	if data, err := os.ReadFile(canonical); err == nil {
		current = string(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if contentHash(current) != expectedHash {
		logging.ToolsWarn("write conflict on %s", canonical)
		return current, ErrConflict
	}

	return "", atomicWrite(canonical, newContent)
}

func atomicWrite(path, content string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".trace-edit-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// normalizeLineEndings converts CRLF and bare CR to LF.
func normalizeLineEndings(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	return strings.ReplaceAll(content, "\r", "\n")
}

func isTraceFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".trace_sch" || ext == ".trace_pcb"
}

// resolveTargetPath picks the file a tool operates on. An explicit
// filename argument resolves relative to the project directory; with no
// argument, a single-file project falls back to the session default, and
// a multi-file project returns "" so the caller can report candidates.
func (e *Executor) resolveTargetPath(args map[string]any, defaultPath string) string {
	if name := argString(args, "target_file", argString(args, "file_path", argString(args, "filename", ""))); name != "" {
		if filepath.IsAbs(name) {
			return name
		}
		return filepath.Join(filepath.Dir(defaultPath), name)
	}
	if defaultPath == "" {
		return ""
	}
	if len(e.traceFilesInProject(filepath.Dir(defaultPath))) > 1 {
		return ""
	}
	return defaultPath
}

func (e *Executor) multiFileError(defaultPath string) Result {
	files := e.traceFilesInProject(filepath.Dir(defaultPath))
	if len(files) == 0 {
		return failure("no target file specified")
	}
	return failure("project has multiple trace files; specify a filename. Candidates: %s",
		strings.Join(files, ", "))
}

// traceFilesInProject lists trace file names under a project directory.
// PCB sessions see both schematic and board traces; schematic sessions
// only schematic traces.
func (e *Executor) traceFilesInProject(projectDir string) []string {
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return nil
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		switch strings.ToLower(filepath.Ext(name)) {
		case ".trace_sch":
			files = append(files, name)
		case ".trace_pcb":
			if e.appType == AppPCB {
				files = append(files, name)
			}
		}
	}
	sort.Strings(files)
	return files
}
