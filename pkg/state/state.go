package state

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Mode selects which content family the displays render.
type Mode string

const (
	// ModeBuiltin renders one of the built-in scenes.
	ModeBuiltin Mode = "builtin"

	// ModeCustom renders CustomHTML.
	ModeCustom Mode = "custom"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeBuiltin || m == ModeCustom
}

// LabelMode controls the display-local identification label.
// The hub passes it through unmodified.
type LabelMode string

const (
	LabelAlways   LabelMode = "always"
	LabelInteract LabelMode = "interact"
	LabelHidden   LabelMode = "hidden"
)

// Valid reports whether m is a known label mode.
func (m LabelMode) Valid() bool {
	switch m {
	case LabelAlways, LabelInteract, LabelHidden:
		return true
	}
	return false
}

// Scene sentinels. Any other scene identifier names a built-in renderer.
const (
	SceneNone  = "none"
	SceneImage = "image"
)

// Default values applied on process start.
const (
	DefaultColor        = "#3b82f6"
	DefaultSpeed        = 1.0
	DefaultIntensity    = 1.0
	DefaultDisplayCount = 3
)

// MaxDisplayCount is the largest display count a patch may set, and the
// largest index a layout key may name. Deployments can only lower it.
const MaxDisplayCount = 256

// Offset locates a display's top-left corner within the virtual canvas.
type Offset struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Layout maps display keys ("d1".."dN") to their canvas offsets.
type Layout map[string]Offset

// DisplayKey returns the layout key for a 1-based display index.
func DisplayKey(index int) string {
	return "d" + strconv.Itoa(index)
}

// ParseDisplayKey returns the 1-based index named by a layout key such
// as "d3". Only the canonical form DisplayKey produces is accepted.
func ParseDisplayKey(key string) (int, bool) {
	if len(key) < 2 || len(key) > 8 || key[0] != 'd' {
		return 0, false
	}
	n, err := strconv.Atoi(key[1:])
	if err != nil || n < 1 || DisplayKey(n) != key {
		return 0, false
	}
	return n, true
}

// Validate checks that every key names a display index in 1..limit.
func (l Layout) Validate(limit int) error {
	for key := range l {
		n, ok := ParseDisplayKey(key)
		if !ok {
			return &FieldError{Field: "canvasLayout", Reason: fmt.Sprintf("bad display key %.16q", key)}
		}
		if n > limit {
			return &FieldError{Field: "canvasLayout", Reason: fmt.Sprintf("display key %q exceeds %d displays", key, limit)}
		}
	}
	return nil
}

// Clone returns a copy of l. A nil layout clones to nil.
func (l Layout) Clone() Layout {
	if l == nil {
		return nil
	}
	out := make(Layout, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// ElementType is the kind of overlay element on the virtual canvas.
type ElementType string

const (
	ElementRect  ElementType = "rect"
	ElementImage ElementType = "image"
)

// Element is an overlay positioned in virtual-canvas coordinates.
type Element struct {
	Type  ElementType `json:"type"`
	X     float64     `json:"x"`
	Y     float64     `json:"y"`
	W     float64     `json:"w"`
	H     float64     `json:"h"`
	Color string      `json:"color,omitempty"`
	Src   string      `json:"src,omitempty"`
}

// Content is a declarative fill for the whole virtual canvas,
// e.g. {"type":"solid","color":"#000"} or {"type":"image","url":"/canvas/x.png"}.
type Content struct {
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
	Color string `json:"color,omitempty"`
}

// State is the canonical record of what is being shown.
// It carries no behavior beyond copying and patching; ownership and
// serialization of access belong to the hub.
type State struct {
	Mode           Mode      `json:"mode"`
	Scene          string    `json:"scene"`
	Color          string    `json:"color"`
	Speed          float64   `json:"speed"`
	Intensity      float64   `json:"intensity"`
	Text           string    `json:"text"`
	ImageURL       string    `json:"imageUrl"`
	DisplayCount   int       `json:"displayCount"`
	CanvasMode     bool      `json:"canvasMode"`
	CanvasLayout   Layout    `json:"canvasLayout"`
	CanvasContent  *Content  `json:"canvasContent"`
	CanvasElements []Element `json:"canvasElements"`
	CustomHTML     string    `json:"customHtml"`
	CustomName     string    `json:"customName"`
	LabelMode      LabelMode `json:"labelMode"`
}

// Default returns the state a fresh process starts with.
func Default() *State {
	return &State{
		Mode:           ModeBuiltin,
		Scene:          SceneNone,
		Color:          DefaultColor,
		Speed:          DefaultSpeed,
		Intensity:      DefaultIntensity,
		DisplayCount:   DefaultDisplayCount,
		CanvasLayout:   Layout{},
		CanvasElements: []Element{},
		LabelMode:      LabelHidden,
	}
}

// Clone returns a deep copy of s, safe to hand to another goroutine.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.CanvasLayout = s.CanvasLayout.Clone()
	if s.CanvasElements != nil {
		c.CanvasElements = make([]Element, len(s.CanvasElements))
		copy(c.CanvasElements, s.CanvasElements)
	}
	if s.CanvasContent != nil {
		content := *s.CanvasContent
		c.CanvasContent = &content
	}
	return &c
}

// Patch is a partial update. Nil fields are left untouched; non-nil
// fields overwrite the corresponding State field wholesale.
type Patch struct {
	Mode           *Mode      `json:"mode,omitempty"`
	Scene          *string    `json:"scene,omitempty"`
	Color          *string    `json:"color,omitempty"`
	Speed          *float64   `json:"speed,omitempty"`
	Intensity      *float64   `json:"intensity,omitempty"`
	Text           *string    `json:"text,omitempty"`
	ImageURL       *string    `json:"imageUrl,omitempty"`
	DisplayCount   *int       `json:"displayCount,omitempty"`
	CanvasMode     *bool      `json:"canvasMode,omitempty"`
	CanvasLayout   *Layout    `json:"canvasLayout,omitempty"`
	CanvasContent  *Content   `json:"canvasContent,omitempty"`
	CanvasElements *[]Element `json:"canvasElements,omitempty"`
	CustomHTML     *string    `json:"customHtml,omitempty"`
	CustomName     *string    `json:"customName,omitempty"`
	LabelMode      *LabelMode `json:"labelMode,omitempty"`
}

// FieldError reports a patch field that is out of range.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("state: invalid %s: %s", e.Field, e.Reason)
}

// Validate checks type and range constraints. It does not check
// cross-field relationships; there are none.
func (p *Patch) Validate() error {
	if p.Mode != nil && !p.Mode.Valid() {
		return &FieldError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", *p.Mode)}
	}
	if p.Speed != nil && *p.Speed < 0 {
		return &FieldError{Field: "speed", Reason: "must be >= 0"}
	}
	if p.Intensity != nil && *p.Intensity < 0 {
		return &FieldError{Field: "intensity", Reason: "must be >= 0"}
	}
	if p.DisplayCount != nil && *p.DisplayCount < 1 {
		return &FieldError{Field: "displayCount", Reason: "must be >= 1"}
	}
	if p.DisplayCount != nil && *p.DisplayCount > MaxDisplayCount {
		return &FieldError{Field: "displayCount", Reason: fmt.Sprintf("must be <= %d", MaxDisplayCount)}
	}
	if p.CanvasLayout != nil {
		if err := p.CanvasLayout.Validate(MaxDisplayCount); err != nil {
			return err
		}
	}
	if p.LabelMode != nil && !p.LabelMode.Valid() {
		return &FieldError{Field: "labelMode", Reason: fmt.Sprintf("unknown label mode %q", *p.LabelMode)}
	}
	if p.Scene != nil && *p.Scene == "" {
		return &FieldError{Field: "scene", Reason: "must not be empty"}
	}
	if p.CanvasElements != nil {
		for i, el := range *p.CanvasElements {
			if el.Type != ElementRect && el.Type != ElementImage {
				return &FieldError{Field: fmt.Sprintf("canvasElements[%d].type", i), Reason: fmt.Sprintf("unknown element type %q", el.Type)}
			}
		}
	}
	return nil
}

// Apply shallow-merges p into s and returns the JSON names of the
// fields it touched. Callers validate first.
func (s *State) Apply(p *Patch) []string {
	var touched []string
	if p.Mode != nil {
		s.Mode = *p.Mode
		touched = append(touched, "mode")
	}
	if p.Scene != nil {
		s.Scene = *p.Scene
		touched = append(touched, "scene")
	}
	if p.Color != nil {
		s.Color = *p.Color
		touched = append(touched, "color")
	}
	if p.Speed != nil {
		s.Speed = *p.Speed
		touched = append(touched, "speed")
	}
	if p.Intensity != nil {
		s.Intensity = *p.Intensity
		touched = append(touched, "intensity")
	}
	if p.Text != nil {
		s.Text = *p.Text
		touched = append(touched, "text")
	}
	if p.ImageURL != nil {
		s.ImageURL = *p.ImageURL
		touched = append(touched, "imageUrl")
	}
	if p.DisplayCount != nil {
		s.DisplayCount = *p.DisplayCount
		touched = append(touched, "displayCount")
	}
	if p.CanvasMode != nil {
		s.CanvasMode = *p.CanvasMode
		touched = append(touched, "canvasMode")
	}
	if p.CanvasLayout != nil {
		s.CanvasLayout = p.CanvasLayout.Clone()
		if s.CanvasLayout == nil {
			s.CanvasLayout = Layout{}
		}
		touched = append(touched, "canvasLayout")
	}
	if p.CanvasContent != nil {
		content := *p.CanvasContent
		s.CanvasContent = &content
		touched = append(touched, "canvasContent")
	}
	if p.CanvasElements != nil {
		s.CanvasElements = append([]Element(nil), (*p.CanvasElements)...)
		if s.CanvasElements == nil {
			s.CanvasElements = []Element{}
		}
		touched = append(touched, "canvasElements")
	}
	if p.CustomHTML != nil {
		s.CustomHTML = *p.CustomHTML
		touched = append(touched, "customHtml")
	}
	if p.CustomName != nil {
		s.CustomName = *p.CustomName
		touched = append(touched, "customName")
	}
	if p.LabelMode != nil {
		s.LabelMode = *p.LabelMode
		touched = append(touched, "labelMode")
	}
	return touched
}

// MarshalJSON keeps canvasLayout and canvasElements as {} and []
// rather than null so clients can merge without nil checks.
func (s State) MarshalJSON() ([]byte, error) {
	type plain State
	p := plain(s)
	if p.CanvasLayout == nil {
		p.CanvasLayout = Layout{}
	}
	if p.CanvasElements == nil {
		p.CanvasElements = []Element{}
	}
	return json.Marshal(p)
}
