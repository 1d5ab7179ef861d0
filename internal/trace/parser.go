package trace

import (
	"regexp"
	"strconv"
	"strings"
)

var numberRe = regexp.MustCompile(`-?[0-9]+\.?[0-9]*`)

// Parse extracts all recognised elements from trace file content. Unknown
// statement kinds, blank lines and comments yield nothing.
func Parse(content string) []Element {
	var elements []Element
	for _, line := range strings.Split(content, "\n") {
		if e, ok := ParseLine(line); ok {
			elements = append(elements, e)
		}
	}
	return elements
}

// ParseLine parses a single statement. The boolean is false for lines the
// analyser does not track.
func ParseLine(line string) (Element, bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if trimmed == "" || trimmed[0] == '#' {
		return Element{}, false
	}

	e := Element{RawLine: line}

	switch {
	case strings.HasPrefix(trimmed, "component "):
		e.Kind = KindComponent
		e.Ref = extractQuoted(trimmed, "ref=")
		e.Symbol = extractQuoted(trimmed, "symbol=")
		e.Value = extractQuoted(trimmed, "value=")
		e.UID = extractUID(trimmed)
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)
		e.Rotation = int(extractNumber(trimmed, "rot=", 0))

	case strings.HasPrefix(trimmed, "wire "):
		e.Kind = KindWire
		e.UID = extractUID(trimmed)
		// Wires carry a point list; the first point is the position.
		e.X = extractNumber(trimmed, "points=", 0)
		e.Y = extractNumber(trimmed, "points=", 1)

	case strings.HasPrefix(trimmed, "junction "):
		e.Kind = KindJunction
		e.UID = extractUID(trimmed)
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)

	case strings.HasPrefix(trimmed, "noconnect "):
		e.Kind = KindNoConnect
		e.UID = extractUID(trimmed)
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)

	case strings.HasPrefix(trimmed, "label "):
		e.Kind = KindLabel
		e.Name = extractQuoted(trimmed, "name=")
		if e.Name == "" {
			e.Name = extractQuoted(trimmed, "label ")
		}
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)

	case strings.HasPrefix(trimmed, "glabel "):
		e.Kind = KindGlabel
		e.Name = extractQuoted(trimmed, "name=")
		if e.Name == "" {
			e.Name = extractQuoted(trimmed, "glabel ")
		}
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)

	case strings.HasPrefix(trimmed, "net "):
		e.Kind = KindNet
		e.Name = extractQuoted(trimmed, "name=")
		if e.Name == "" {
			e.Name = extractQuoted(trimmed, "net ")
		}

	case strings.HasPrefix(trimmed, "sheet "):
		e.Kind = KindSheet
		e.Name = extractQuoted(trimmed, "name=")
		e.UID = extractUID(trimmed)

	case strings.HasPrefix(trimmed, "footprint "):
		e.Kind = KindFootprint
		e.Ref = extractQuoted(trimmed, "ref=")
		e.Symbol = extractQuoted(trimmed, "footprint=")
		if e.Symbol == "" {
			e.Symbol = extractQuoted(trimmed, "lib=")
		}
		e.Value = extractQuoted(trimmed, "value=")
		e.UID = extractUID(trimmed)
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)
		e.Rotation = int(extractNumber(trimmed, "rot=", 0))
		e.Layer = extractQuoted(trimmed, "layer=")

	case strings.HasPrefix(trimmed, "track "):
		e.Kind = KindTrack
		e.UID = extractUID(trimmed)
		e.X = extractNumber(trimmed, "start=", 0)
		e.Y = extractNumber(trimmed, "start=", 1)
		e.Layer = extractQuoted(trimmed, "layer=")
		e.Width = extractNumber(trimmed, "width=", 0)
		e.Net = extractQuoted(trimmed, "net=")

	case strings.HasPrefix(trimmed, "via "):
		e.Kind = KindVia
		e.UID = extractUID(trimmed)
		e.X = extractNumber(trimmed, "at=", 0)
		e.Y = extractNumber(trimmed, "at=", 1)
		e.Net = extractQuoted(trimmed, "net=")

	case strings.HasPrefix(trimmed, "zone "):
		e.Kind = KindZone
		e.UID = extractUID(trimmed)
		e.Name = extractQuoted(trimmed, "net=")
		e.Layer = extractQuoted(trimmed, "layer=")

	case strings.HasPrefix(trimmed, "gr_line "):
		e.Kind = KindGrLine
		e.X = extractNumber(trimmed, "start=", 0)
		e.Y = extractNumber(trimmed, "start=", 1)
		e.Layer = extractQuoted(trimmed, "layer=")

	case strings.HasPrefix(trimmed, "gr_rect "):
		e.Kind = KindGrRect
		e.X = extractNumber(trimmed, "start=", 0)
		e.Y = extractNumber(trimmed, "start=", 1)
		e.Layer = extractQuoted(trimmed, "layer=")

	case strings.HasPrefix(trimmed, "gr_circle "):
		e.Kind = KindGrCircle
		e.X = extractNumber(trimmed, "center=", 0)
		e.Y = extractNumber(trimmed, "center=", 1)
		e.Layer = extractQuoted(trimmed, "layer=")

	case strings.HasPrefix(trimmed, "gr_arc "):
		e.Kind = KindGrArc
		e.X = extractNumber(trimmed, "start=", 0)
		e.Y = extractNumber(trimmed, "start=", 1)
		e.Layer = extractQuoted(trimmed, "layer=")

	default:
		return Element{}, false
	}

	return e, true
}

// extractQuoted locates prefix, skips whitespace, then reads a "..." or
// '...' token, or an unquoted token terminated by space, tab, comma, ']'
// or '}'.
func extractQuoted(line, prefix string) string {
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(prefix):]
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return ""
	}

	if q := rest[0]; q == '"' || q == '\'' {
		end := strings.IndexByte(rest[1:], q)
		if end < 0 {
			return ""
		}
		return rest[1 : 1+end]
	}

	end := strings.IndexAny(rest, " \t,]}")
	if end < 0 {
		end = len(rest)
	}
	return rest[:end]
}

// extractNumber returns the index-th decimal number following prefix, or 0
// if absent.
func extractNumber(line, prefix string, index int) float64 {
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return 0
	}
	start := idx + len(prefix)

	// Step inside an opening bracket adjacent to the prefix, if any.
	if b := strings.IndexByte(line[start:], '['); b >= 0 && b < 5 {
		start += b + 1
	}

	matches := numberRe.FindAllString(line[start:], index+1)
	if len(matches) <= index {
		return 0
	}
	v, err := strconv.ParseFloat(matches[index], 64)
	if err != nil {
		return 0
	}
	return v
}

// extractUID reads uid="..." or uuid="...".
func extractUID(line string) string {
	if uid := extractQuoted(line, "uid="); uid != "" {
		return uid
	}
	return extractQuoted(line, "uuid=")
}

// ExtractUIDs returns the uid attribute of every line whose kind can carry
// a symbol identity. The executor uses this to track which symbols an edit
// touched so the host can autoplace their fields afterwards.
func ExtractUIDs(content string) []string {
	var uids []string
	seen := make(map[string]struct{})
	for _, line := range strings.Split(content, "\n") {
		e, ok := ParseLine(line)
		if !ok || e.UID == "" {
			continue
		}
		if _, dup := seen[e.UID]; dup {
			continue
		}
		seen[e.UID] = struct{}{}
		uids = append(uids, e.UID)
	}
	return uids
}
