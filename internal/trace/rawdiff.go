package trace

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// RawDiff produces a compact line-level diff summary of an edit, used in
// tool result messages and logs. It is deliberately line-oriented: trace
// files are one statement per line, so character-level churn is noise.
func RawDiff(oldContent, newContent string) string {
	dmp := diffmatchpatch.New()
	oldRunes, newRunes, lines := dmp.DiffLinesToRunes(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMainRunes(oldRunes, newRunes, false), lines)

	var b strings.Builder
	added, removed := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			for _, line := range splitDiffLines(d.Text) {
				added++
				b.WriteString("+ " + line + "\n")
			}
		case diffmatchpatch.DiffDelete:
			for _, line := range splitDiffLines(d.Text) {
				removed++
				b.WriteString("- " + line + "\n")
			}
		}
	}

	if added == 0 && removed == 0 {
		return "no line changes"
	}
	return fmt.Sprintf("+%d/-%d lines\n%s", added, removed, strings.TrimRight(b.String(), "\n"))
}

func splitDiffLines(text string) []string {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
