package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// executeGrep scans trace files under a directory (or one file) for a
// regex pattern. Supports content, files_with_matches and count output
// modes, before/after context, case folding, and a head limit.
func (e *Executor) executeGrep(args map[string]any, defaultPath string) Result {
	pattern := argString(args, "pattern", "")
	if pattern == "" {
		return failure("grep requires a pattern")
	}

	outputMode := argString(args, "output_mode", "content")
	before := argInt(args, "B", 0)
	after := argInt(args, "A", 0)
	if both := argInt(args, "C", 0); both > 0 {
		before = both
		after = both
	}
	headLimit := argInt(args, "head_limit", -1)

	flags := ""
	if argBool(args, "i", false) {
		flags = "(?i)"
	}
	re, err := regexp.Compile(flags + pattern)
	if err != nil {
		return failure("invalid regex pattern: %v", err)
	}

	projectDir := filepath.Dir(defaultPath)
	searchPath := argString(args, "path", projectDir)
	if !filepath.IsAbs(searchPath) {
		searchPath = filepath.Join(projectDir, searchPath)
	}

	var files []string
	if info, statErr := os.Stat(searchPath); statErr != nil {
		return failure("path not found: %s", searchPath)
	} else if info.IsDir() {
		for _, name := range e.traceFilesInProject(searchPath) {
			files = append(files, filepath.Join(searchPath, name))
		}
	} else {
		files = append(files, searchPath)
	}
	if len(files) == 0 {
		return success("No files to search in: %s", searchPath)
	}

	var out strings.Builder
	totalMatches := 0
	filesWithMatches := 0

	for _, path := range files {
		canonical, valErr := e.validatePath(path, "read")
		if valErr != nil {
			continue
		}
		data, readErr := os.ReadFile(canonical)
		if readErr != nil || len(data) == 0 {
			continue
		}
		lines := strings.Split(normalizeLineEndings(string(data)), "\n")

		var matching []int
		for i, line := range lines {
			if re.MatchString(line) {
				matching = append(matching, i+1)
			}
		}
		if len(matching) == 0 {
			continue
		}
		filesWithMatches++
		totalMatches += len(matching)

		name := filepath.Base(canonical)
		switch outputMode {
		case "files_with_matches":
			fmt.Fprintf(&out, "%s\n", name)
		case "count":
			fmt.Fprintf(&out, "%s:%d\n", name, len(matching))
		default:
			fmt.Fprintf(&out, "%s\n", name)
			shown := 0
			lastEnd := -1
			for _, lineNum := range matching {
				if headLimit > 0 && shown >= headLimit {
					break
				}
				start := max(1, lineNum-before)
				end := min(len(lines), lineNum+after)
				if lastEnd >= 0 && start > lastEnd+1 {
					out.WriteString("--\n")
				}
				if start <= lastEnd {
					start = lastEnd + 1
				}
				for i := start; i <= end; i++ {
					sep := "-"
					if i == lineNum {
						sep = ":"
					}
					fmt.Fprintf(&out, "%d%s%s\n", i, sep, lines[i-1])
				}
				lastEnd = end
				shown++
			}
			out.WriteString("\n")
		}
		if outputMode != "content" && headLimit > 0 && filesWithMatches >= headLimit {
			break
		}
	}

	if totalMatches == 0 {
		return success("No matches found for pattern: %s", pattern)
	}

	return success("Found %d %s in %d %s\n\n%s",
		totalMatches, plural(totalMatches, "match", "matches"),
		filesWithMatches, plural(filesWithMatches, "file", "files"),
		out.String())
}

// executeListDir lists trace files in a directory as a JSON array,
// filtered through any ignore globs.
func (e *Executor) executeListDir(args map[string]any, defaultPath string) Result {
	projectDir := filepath.Dir(defaultPath)
	dir := argString(args, "path", projectDir)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectDir, dir)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return failure("directory not found: %s", dir)
	}

	var ignoreGlobs []string
	if raw, ok := args["ignore_globs"].([]any); ok {
		for _, g := range raw {
			if s, ok := g.(string); ok {
				ignoreGlobs = append(ignoreGlobs, s)
			}
		}
	}

	var kept []string
	for _, name := range e.traceFilesInProject(dir) {
		if matchesAnyGlob(name, ignoreGlobs) {
			continue
		}
		kept = append(kept, name)
	}
	if len(kept) == 0 {
		return success("No trace files found in directory")
	}

	encoded, err := json.Marshal(kept)
	if err != nil {
		return failure("failed to encode listing: %v", err)
	}
	return success("%s", string(encoded))
}

// matchesAnyGlob does case-insensitive matching with * and ? wildcards.
// Patterns are matched against basenames, so a directory prefix like
// "**/" is dropped.
func matchesAnyGlob(name string, globs []string) bool {
	for _, glob := range globs {
		pattern := strings.TrimPrefix(glob, "**/")
		re, err := regexp.Compile("(?i)^" + globToRegex(pattern) + "$")
		if err != nil {
			continue
		}
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func globToRegex(glob string) string {
	var b strings.Builder
	for _, c := range glob {
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
