package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// Extensions a tool may read, write or delete. Everything else is blocked
// regardless of location.
var allowedExtensions = map[string]struct{}{
	".trace_sch": {},
	".trace_pcb": {},
	".kicad_sch": {},
	".kicad_pcb": {},
	".svg":       {},
	".backup":    {},
	".zip":       {},
	".gbr":       {},
	".drl":       {},
}

// canonicalPath resolves a path to an absolute form with symlinks and
// dot components removed. The file itself may not exist yet (writes
// create files), so symlinks are resolved on the deepest existing parent.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	// Target missing: canonicalise the parent directory instead.
	dir, base := filepath.Split(abs)
	resolvedDir, err := filepath.EvalSymlinks(filepath.Clean(dir))
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedDir, base), nil
}

// validatePath enforces the sandbox: canonical form, allow-listed
// extension, and containment in an allowed project directory when any are
// configured. Returns the canonical path on success.
func (e *Executor) validatePath(path, operation string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrPolicyViolation)
	}

	canonical, err := canonicalPath(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve %q: %v", ErrPolicyViolation, path, err)
	}

	ext := strings.ToLower(filepath.Ext(canonical))
	if _, ok := allowedExtensions[ext]; !ok {
		logging.ToolsWarn("blocked %s of %s: extension %q not allowed", operation, canonical, ext)
		return "", fmt.Errorf("%w: extension %q is not an allowed design file type", ErrPolicyViolation, ext)
	}

	e.mu.Lock()
	dirs := append([]string(nil), e.allowedDirs...)
	e.mu.Unlock()

	if len(dirs) == 0 {
		return canonical, nil
	}
	for _, dir := range dirs {
		if pathWithinDir(canonical, dir) {
			return canonical, nil
		}
	}
	logging.ToolsWarn("blocked %s of %s: outside allowed project directories", operation, canonical)
	return "", fmt.Errorf("%w: %s is outside the allowed project directories", ErrPolicyViolation, canonical)
}

// pathWithinDir reports whether path sits strictly inside dir, comparing
// canonical forms with a trailing separator so /proj does not admit
// /project-evil.
func pathWithinDir(path, dir string) bool {
	canonicalDir, err := canonicalPath(dir)
	if err != nil {
		return false
	}
	prefix := canonicalDir
	if !strings.HasSuffix(prefix, string(os.PathSeparator)) {
		prefix += string(os.PathSeparator)
	}
	return strings.HasPrefix(path, prefix)
}
