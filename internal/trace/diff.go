package trace

import (
	"encoding/json"
	"fmt"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// Modification pairs the old and new version of an element that kept its
// key but changed attributes.
type Modification struct {
	Old Element `json:"old"`
	New Element `json:"new"`
}

// DiffResult holds the structural difference between two file versions and
// the incremental-vs-reload classification derived from it.
type DiffResult struct {
	Added    []Element      `json:"added"`
	Removed  []Element      `json:"removed"`
	Modified []Modification `json:"modified"`

	IsSimple         bool   `json:"is_simple"`
	ComplexityReason string `json:"complexity_reason"`
}

// TotalChanges is the number of added, removed and modified elements.
func (d *DiffResult) TotalChanges() int {
	return len(d.Added) + len(d.Removed) + len(d.Modified)
}

// ToJSON serialises the diff for the file_edit event payload.
func (d *DiffResult) ToJSON() string {
	data, err := json.Marshal(d)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Diff parses both contents, matches elements by stable key and classifies
// the result.
func Diff(oldContent, newContent string) DiffResult {
	timer := logging.StartTimer(logging.CategoryDiff, "Diff")
	defer timer.Stop()

	oldMap := keyElements(Parse(oldContent))
	newMap := keyElements(Parse(newContent))

	var result DiffResult
	for key, elem := range newMap {
		if _, ok := oldMap[key]; !ok {
			result.Added = append(result.Added, elem)
		}
	}
	for key, elem := range oldMap {
		if _, ok := newMap[key]; !ok {
			result.Removed = append(result.Removed, elem)
		}
	}
	for key, oldElem := range oldMap {
		if newElem, ok := newMap[key]; ok && !oldElem.Equals(newElem) {
			result.Modified = append(result.Modified, Modification{Old: oldElem, New: newElem})
		}
	}

	Classify(&result)
	logging.Diff("diff: +%d -%d ~%d simple=%v (%s)",
		len(result.Added), len(result.Removed), len(result.Modified),
		result.IsSimple, result.ComplexityReason)
	return result
}

func keyElements(elements []Element) map[string]Element {
	m := make(map[string]Element, len(elements))
	for _, e := range elements {
		if key := e.Key(); key != "" {
			m[key] = e
		}
	}
	return m
}

// Classify sets IsSimple and ComplexityReason. Rules apply in order; the
// first match wins. Idempotent.
func Classify(d *DiffResult) {
	total := d.TotalChanges()

	if total == 0 {
		d.IsSimple = true
		d.ComplexityReason = "No changes"
		return
	}
	if total == 1 {
		d.IsSimple = true
		d.ComplexityReason = "Single element change"
		return
	}
	if total > 5 {
		d.IsSimple = false
		d.ComplexityReason = fmt.Sprintf("Too many changes (%d)", total)
		return
	}

	if n := d.countKind(KindComponent); n > 2 {
		d.IsSimple = false
		d.ComplexityReason = fmt.Sprintf("Multiple component changes (%d)", n)
		return
	}

	if n := d.countKind(KindWire); n > 1 {
		d.IsSimple = false
		d.ComplexityReason = fmt.Sprintf("Multiple wire changes (%d) - may affect connectivity", n)
		return
	}

	for _, e := range d.Added {
		if e.Kind == KindSheet {
			d.IsSimple = false
			d.ComplexityReason = "Hierarchical sheet changes require full reload"
			return
		}
	}
	for _, e := range d.Removed {
		if e.Kind == KindSheet {
			d.IsSimple = false
			d.ComplexityReason = "Hierarchical sheet changes require full reload"
			return
		}
	}

	if len(d.Added) == 0 && len(d.Removed) == 0 && d.allPropertyOnly() {
		d.IsSimple = true
		d.ComplexityReason = "Property-only changes"
		return
	}

	d.IsSimple = true
	d.ComplexityReason = fmt.Sprintf("Moderate changes (%d elements)", total)
}

// countKind counts changes touching a kind across all three sets.
func (d *DiffResult) countKind(kind string) int {
	n := 0
	for _, e := range d.Added {
		if e.Kind == kind {
			n++
		}
	}
	for _, e := range d.Removed {
		if e.Kind == kind {
			n++
		}
	}
	for _, m := range d.Modified {
		if m.Old.Kind == kind || m.New.Kind == kind {
			n++
		}
	}
	return n
}

// allPropertyOnly reports whether every modification is a component whose
// position, rotation and symbol are unchanged.
func (d *DiffResult) allPropertyOnly() bool {
	for _, m := range d.Modified {
		if m.Old.Kind != KindComponent || m.New.Kind != KindComponent {
			return false
		}
		if m.Old.Symbol != m.New.Symbol ||
			m.Old.Rotation != m.New.Rotation ||
			!samePosition(m.Old, m.New) {
			return false
		}
	}
	return true
}

func samePosition(a, b Element) bool {
	dx := a.X - b.X
	dy := a.Y - b.Y
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	return dx <= positionTolerance && dy <= positionTolerance
}
