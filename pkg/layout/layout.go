// Package layout maps the shared virtual canvas onto each display.
//
// The virtual canvas is TileWidth × displayCount pixels wide. Each display
// owns a TileWidth × TileHeight window whose top-left corner is its offset
// in State.CanvasLayout. Default offsets place displays left to right.
//
// Materializing missing offsets is a mutation and lives in EnsureDefaults;
// the hub calls it whenever displayCount or canvasLayout changes. Every
// other function here is a pure query.
package layout

import (
	"github.com/Giorgiomufen/display-sync/pkg/state"
)

// Tile dimensions of one display in virtual-canvas pixels.
const (
	TileWidth  = 1920
	TileHeight = 1080
)

// DefaultOffset returns the left-to-right offset for a 1-based display index.
func DefaultOffset(index int) state.Offset {
	if index < 1 {
		index = 1
	}
	return state.Offset{X: (index - 1) * TileWidth, Y: 0}
}

// EnsureDefaults writes a default offset for every display key d1..dN
// that has none, where N is s.DisplayCount. Existing offsets, including
// keys beyond N, are left alone. It returns the keys it added, in index
// order; a second call returns nil.
func EnsureDefaults(s *state.State) []string {
	if s.CanvasLayout == nil {
		s.CanvasLayout = state.Layout{}
	}
	var added []string
	for i := 1; i <= s.DisplayCount; i++ {
		key := state.DisplayKey(i)
		if _, ok := s.CanvasLayout[key]; ok {
			continue
		}
		s.CanvasLayout[key] = DefaultOffset(i)
		added = append(added, key)
	}
	return added
}

// OffsetFor returns the offset of display index within l, falling back
// to the default position. It does not modify l.
func OffsetFor(l state.Layout, index int) state.Offset {
	if off, ok := l[state.DisplayKey(index)]; ok {
		return off
	}
	return DefaultOffset(index)
}

// ProjectElement translates el from virtual-canvas coordinates into the
// local coordinates of the display at off.
func ProjectElement(off state.Offset, el state.Element) state.Element {
	el.X -= float64(off.X)
	el.Y -= float64(off.Y)
	return el
}

// View is what one display needs to draw the canvas overlay.
type View struct {
	DisplayIndex int             `json:"displayIndex"`
	Offset       state.Offset    `json:"offset"`
	Elements     []state.Element `json:"elements"`
}

// Project builds the local draw list for display index. Elements that
// fall entirely outside the display's window are still returned; culling
// belongs to the renderer.
func Project(s *state.State, index int) View {
	off := OffsetFor(s.CanvasLayout, index)
	v := View{
		DisplayIndex: index,
		Offset:       off,
		Elements:     make([]state.Element, 0, len(s.CanvasElements)),
	}
	for _, el := range s.CanvasElements {
		v.Elements = append(v.Elements, ProjectElement(off, el))
	}
	return v
}

// Visible reports whether a projected element overlaps the local
// TileWidth × TileHeight window. Renderers may use it to cull.
func Visible(el state.Element) bool {
	return el.X < TileWidth && el.Y < TileHeight && el.X+el.W > 0 && el.Y+el.H > 0
}

// CanvasWidth is the width of the virtual canvas for n displays.
func CanvasWidth(n int) int {
	if n < 1 {
		return 0
	}
	return n * TileWidth
}
