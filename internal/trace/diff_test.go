package trace

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func componentLine(ref string, x, y int) string {
	return fmt.Sprintf("component ref=%q symbol=\"Device:R\" value=\"10k\" at=[%d, %d]", ref, x, y)
}

func TestDiffIdentical(t *testing.T) {
	content := componentLine("R1", 0, 0) + "\n" + componentLine("R2", 10, 10)
	d := Diff(content, content)
	assert.Zero(t, d.TotalChanges())
	assert.True(t, d.IsSimple)
	assert.Equal(t, "No changes", d.ComplexityReason)
}

func TestDiffPureAddition(t *testing.T) {
	old := componentLine("R1", 0, 0)
	new := old + "\n" + componentLine("R2", 5, 5)
	d := Diff(old, new)
	require.Len(t, d.Added, 1)
	assert.Empty(t, d.Removed)
	assert.Empty(t, d.Modified)
	assert.Equal(t, "R2", d.Added[0].Ref)
}

func TestDiffRemoval(t *testing.T) {
	old := componentLine("R1", 0, 0) + "\n" + componentLine("R2", 5, 5)
	d := Diff(old, componentLine("R1", 0, 0))
	require.Len(t, d.Removed, 1)
	assert.Equal(t, "R2", d.Removed[0].Ref)
}

func TestDiffModification(t *testing.T) {
	old := componentLine("R1", 0, 0)
	new := componentLine("R1", 20, 0)
	d := Diff(old, new)
	require.Len(t, d.Modified, 1)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.Equal(t, float64(0), d.Modified[0].Old.X)
	assert.Equal(t, float64(20), d.Modified[0].New.X)
}

func TestDiffSubToleranceMoveIsNoChange(t *testing.T) {
	old := `component ref="R1" symbol="Device:R" at=[10.0000, 5.0]`
	new := `component ref="R1" symbol="Device:R" at=[10.0005, 5.0]`
	d := Diff(old, new)
	assert.Zero(t, d.TotalChanges())
}

func TestClassifyBoundaries(t *testing.T) {
	t.Run("single change simple", func(t *testing.T) {
		var d DiffResult
		d.Added = []Element{{Kind: KindJunction}}
		Classify(&d)
		assert.True(t, d.IsSimple)
		assert.Equal(t, "Single element change", d.ComplexityReason)
	})

	t.Run("six changes complex", func(t *testing.T) {
		var d DiffResult
		for i := 0; i < 6; i++ {
			d.Added = append(d.Added, Element{Kind: KindJunction})
		}
		Classify(&d)
		assert.False(t, d.IsSimple)
		assert.Equal(t, "Too many changes (6)", d.ComplexityReason)
	})

	t.Run("five junction changes still simple", func(t *testing.T) {
		var d DiffResult
		for i := 0; i < 5; i++ {
			d.Added = append(d.Added, Element{Kind: KindJunction})
		}
		Classify(&d)
		assert.True(t, d.IsSimple)
		assert.Equal(t, "Moderate changes (5 elements)", d.ComplexityReason)
	})
}

func TestClassifyComponentThreshold(t *testing.T) {
	var d DiffResult
	d.Added = []Element{{Kind: KindComponent}, {Kind: KindComponent}}
	d.Removed = []Element{{Kind: KindComponent}}
	Classify(&d)
	assert.False(t, d.IsSimple)
	assert.Equal(t, "Multiple component changes (3)", d.ComplexityReason)
}

func TestClassifyWireThreshold(t *testing.T) {
	var d DiffResult
	d.Added = []Element{{Kind: KindWire}, {Kind: KindWire}}
	Classify(&d)
	assert.False(t, d.IsSimple)
	assert.Contains(t, d.ComplexityReason, "may affect connectivity")
}

func TestClassifySheetChange(t *testing.T) {
	var d DiffResult
	d.Added = []Element{{Kind: KindSheet}, {Kind: KindJunction}}
	Classify(&d)
	assert.False(t, d.IsSimple)
	assert.Equal(t, "Hierarchical sheet changes require full reload", d.ComplexityReason)
}

func TestClassifyPropertyOnly(t *testing.T) {
	old := Element{Kind: KindComponent, Ref: "R1", Symbol: "Device:R", X: 1, Y: 1, Value: "10k"}
	new := old
	new.Value = "22k"
	old2 := Element{Kind: KindComponent, Ref: "R2", Symbol: "Device:R", X: 2, Y: 2, Value: "1k"}
	new2 := old2
	new2.Value = "2k"

	var d DiffResult
	d.Modified = []Modification{{Old: old, New: new}, {Old: old2, New: new2}}
	Classify(&d)
	assert.True(t, d.IsSimple)
	assert.Equal(t, "Property-only changes", d.ComplexityReason)
}

func TestClassifyIdempotent(t *testing.T) {
	var d DiffResult
	d.Added = []Element{{Kind: KindJunction}, {Kind: KindVia}}
	Classify(&d)
	first := []any{d.IsSimple, d.ComplexityReason}
	Classify(&d)
	assert.Equal(t, first, []any{d.IsSimple, d.ComplexityReason})
}

func TestDiffKeyDisjointness(t *testing.T) {
	old := componentLine("R1", 0, 0) + "\n" + componentLine("R2", 5, 5)
	new := componentLine("R1", 9, 9) + "\n" + componentLine("R3", 7, 7)
	d := Diff(old, new)

	seen := make(map[string]int)
	for _, e := range d.Added {
		seen[e.Key()]++
	}
	for _, e := range d.Removed {
		seen[e.Key()]++
	}
	for _, m := range d.Modified {
		seen[m.Old.Key()]++
	}
	for key, n := range seen {
		assert.Equal(t, 1, n, "key %s appears in more than one set", key)
	}
}

func TestDiffResultToJSON(t *testing.T) {
	d := Diff(componentLine("R1", 0, 0), componentLine("R1", 20, 0))
	js := d.ToJSON()
	assert.Contains(t, js, `"is_simple":true`)
	assert.Contains(t, js, `"complexity_reason":"Single element change"`)
	assert.Contains(t, js, `"modified"`)
}

func TestRawDiff(t *testing.T) {
	old := "a\nb\nc\n"
	new := "a\nB\nc\nd\n"
	out := RawDiff(old, new)
	assert.Contains(t, out, "- b")
	assert.Contains(t, out, "+ B")
	assert.Contains(t, out, "+ d")
	assert.True(t, strings.HasPrefix(out, "+2/-1 lines"))

	assert.Equal(t, "no line changes", RawDiff("same\n", "same\n"))
}
