// Package trace parses the line-oriented trace design format and computes
// identity-keyed structural diffs between two versions of a file. The diff
// drives the editor's decision between an incremental canvas update and a
// full document reload after an AI edit.
package trace

import (
	"fmt"
	"hash/fnv"
	"math"
)

// Position tolerance for element equality, in the format's natural unit.
const positionTolerance = 0.001

// Element kinds recognised by the parser.
const (
	KindComponent = "component"
	KindWire      = "wire"
	KindJunction  = "junction"
	KindNoConnect = "noconnect"
	KindLabel     = "label"
	KindGlabel    = "glabel"
	KindNet       = "net"
	KindSheet     = "sheet"
	KindFootprint = "footprint"
	KindTrack     = "track"
	KindVia       = "via"
	KindZone      = "zone"
	KindGrLine    = "gr_line"
	KindGrRect    = "gr_rect"
	KindGrCircle  = "gr_circle"
	KindGrArc     = "gr_arc"
)

// Element is a single identity-carrying statement from a trace file.
type Element struct {
	Kind     string  `json:"kind"`
	UID      string  `json:"uid,omitempty"`
	Ref      string  `json:"ref,omitempty"`
	Symbol   string  `json:"symbol,omitempty"`
	Name     string  `json:"name,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Rotation int     `json:"rotation"`
	Value    string  `json:"value,omitempty"`
	Layer    string  `json:"layer,omitempty"`
	Net      string  `json:"net,omitempty"`
	Width    float64 `json:"width,omitempty"`
	RawLine  string  `json:"-"`
}

// Key returns the stable identity under which two versions of an element
// are matched. The UID wins when present; otherwise a kind-specific
// composite is used, with a raw-content hash as the last resort.
func (e Element) Key() string {
	if e.UID != "" {
		return e.UID
	}

	switch e.Kind {
	case KindComponent:
		if e.Ref != "" {
			return "comp:" + e.Ref
		}
	case KindWire:
		return fmt.Sprintf("wire:%v:%v", e.X, e.Y)
	case KindLabel:
		if e.Name != "" {
			return fmt.Sprintf("label:%s:%v:%v", e.Name, e.X, e.Y)
		}
	case KindGlabel:
		if e.Name != "" {
			return "glabel:" + e.Name
		}
	case KindNet:
		if e.Name != "" {
			return "net:" + e.Name
		}
	case KindJunction:
		return fmt.Sprintf("junction:%v:%v", e.X, e.Y)
	case KindNoConnect:
		return fmt.Sprintf("noconnect:%v:%v", e.X, e.Y)
	case KindFootprint:
		if e.Ref != "" {
			return "fp:" + e.Ref
		}
	case KindTrack:
		return fmt.Sprintf("track:%s:%v:%v", e.Layer, e.X, e.Y)
	case KindVia:
		return fmt.Sprintf("via:%v:%v", e.X, e.Y)
	case KindZone:
		if e.Name != "" {
			return "zone:" + e.Name + ":" + e.Layer
		}
	case KindGrLine, KindGrRect, KindGrCircle, KindGrArc:
		return fmt.Sprintf("%s:%s:%v:%v", e.Kind, e.Layer, e.X, e.Y)
	}

	h := fnv.New64a()
	h.Write([]byte(e.RawLine))
	return fmt.Sprintf("%s:%d", e.Kind, h.Sum64())
}

// Equals reports per-kind equality. Positions compare within the 1e-3
// tolerance; all other attributes compare exactly.
func (e Element) Equals(o Element) bool {
	if e.Kind != o.Kind {
		return false
	}

	samePos := func() bool {
		return math.Abs(e.X-o.X) < positionTolerance && math.Abs(e.Y-o.Y) < positionTolerance
	}

	switch e.Kind {
	case KindComponent:
		return e.Ref == o.Ref && e.Symbol == o.Symbol && samePos() &&
			e.Rotation == o.Rotation && e.Value == o.Value
	case KindWire:
		return samePos()
	case KindLabel:
		return e.Name == o.Name && samePos()
	case KindGlabel, KindNet:
		return e.Name == o.Name
	case KindJunction, KindNoConnect:
		return samePos()
	case KindFootprint:
		return e.Ref == o.Ref && e.Symbol == o.Symbol && samePos() &&
			e.Rotation == o.Rotation && e.Layer == o.Layer
	case KindTrack:
		return samePos() && e.Layer == o.Layer &&
			math.Abs(e.Width-o.Width) < positionTolerance && e.Net == o.Net
	case KindVia:
		return samePos() && e.Net == o.Net
	case KindZone:
		return e.Name == o.Name && e.Layer == o.Layer
	case KindGrLine, KindGrRect, KindGrCircle, KindGrArc:
		return samePos() && e.Layer == o.Layer
	}

	return e.RawLine == o.RawLine
}
