package state

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestDefault(t *testing.T) {
	s := Default()
	if s.Mode != ModeBuiltin || s.Scene != SceneNone || s.Color != "#3b82f6" {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if s.Speed != 1 || s.Intensity != 1 || s.DisplayCount != 3 || s.CanvasMode {
		t.Fatalf("unexpected numeric defaults: %+v", s)
	}
	if s.CanvasLayout == nil || s.CanvasElements == nil {
		t.Fatal("layout and elements must be non-nil")
	}
}

func TestApply_OnlyTouchesPresentFields(t *testing.T) {
	s := Default()
	s.Text = "keep me"

	touched := s.Apply(&Patch{Scene: ptr("solid"), Color: ptr("#ff0000")})

	if s.Scene != "solid" || s.Color != "#ff0000" {
		t.Fatalf("patch not applied: %+v", s)
	}
	if s.Text != "keep me" || s.DisplayCount != 3 || s.Speed != 1 {
		t.Fatalf("unrelated fields changed: %+v", s)
	}
	if !reflect.DeepEqual(touched, []string{"scene", "color"}) {
		t.Fatalf("touched = %v", touched)
	}
}

func TestApply_ReplacesCollectionsWholesale(t *testing.T) {
	s := Default()
	s.CanvasLayout = Layout{"d1": {X: 5}, "d2": {X: 10}}
	s.CanvasElements = []Element{{Type: ElementRect}, {Type: ElementRect}}

	layout := Layout{"d3": {X: 1, Y: 2}}
	elements := []Element{{Type: ElementImage, Src: "/canvas/a.png"}}
	s.Apply(&Patch{CanvasLayout: &layout, CanvasElements: &elements})

	if len(s.CanvasLayout) != 1 || s.CanvasLayout["d3"] != (Offset{X: 1, Y: 2}) {
		t.Fatalf("layout not replaced: %v", s.CanvasLayout)
	}
	if len(s.CanvasElements) != 1 || s.CanvasElements[0].Src != "/canvas/a.png" {
		t.Fatalf("elements not replaced: %v", s.CanvasElements)
	}

	// The state must not alias the patch's backing storage.
	layout["d9"] = Offset{}
	elements[0].Src = "mutated"
	if _, ok := s.CanvasLayout["d9"]; ok {
		t.Fatal("layout aliases patch map")
	}
	if s.CanvasElements[0].Src == "mutated" {
		t.Fatal("elements alias patch slice")
	}
}

func TestPatchValidate(t *testing.T) {
	tests := []struct {
		name  string
		patch Patch
		field string
	}{
		{"valid", Patch{Scene: ptr("waves"), Speed: ptr(0.0)}, ""},
		{"negative speed", Patch{Speed: ptr(-1.0)}, "speed"},
		{"negative intensity", Patch{Intensity: ptr(-0.5)}, "intensity"},
		{"zero displays", Patch{DisplayCount: ptr(0)}, "displayCount"},
		{"bad mode", Patch{Mode: ptr(Mode("remote"))}, "mode"},
		{"bad label mode", Patch{LabelMode: ptr(LabelMode("blink"))}, "labelMode"},
		{"empty scene", Patch{Scene: ptr("")}, "scene"},
		{"bad element", Patch{CanvasElements: &[]Element{{Type: "circle"}}}, "canvasElements[0].type"},
		{"max displays", Patch{DisplayCount: ptr(MaxDisplayCount)}, ""},
		{"too many displays", Patch{DisplayCount: ptr(3000000)}, "displayCount"},
		{"layout key", Patch{CanvasLayout: &Layout{"d256": {}}}, ""},
		{"layout key out of range", Patch{CanvasLayout: &Layout{"d257": {}}}, "canvasLayout"},
		{"layout key malformed", Patch{CanvasLayout: &Layout{"screen-1": {}}}, "canvasLayout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.patch.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("Validate() = %v, want *FieldError", err)
			}
			if fe.Field != tt.field {
				t.Fatalf("field = %q, want %q", fe.Field, tt.field)
			}
		})
	}
}

func TestParseDisplayKey(t *testing.T) {
	tests := []struct {
		key  string
		want int
		ok   bool
	}{
		{"d1", 1, true},
		{"d42", 42, true},
		{"d0", 0, false},
		{"d01", 0, false},
		{"d+1", 0, false},
		{"d-1", 0, false},
		{"x1", 0, false},
		{"d", 0, false},
		{"d" + strings.Repeat("9", 40), 0, false},
	}
	for _, tt := range tests {
		n, ok := ParseDisplayKey(tt.key)
		if n != tt.want || ok != tt.ok {
			t.Errorf("ParseDisplayKey(%q) = %d, %v; want %d, %v", tt.key, n, ok, tt.want, tt.ok)
		}
	}
}

func TestPatchDecode_IgnoresUnknownKeys(t *testing.T) {
	raw := `{"scene":"matrix","speed":2.5,"somethingElse":true,"displayCount":4}`
	var p Patch
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Scene == nil || *p.Scene != "matrix" || p.Speed == nil || *p.Speed != 2.5 {
		t.Fatalf("decoded patch = %+v", p)
	}
	if p.Color != nil || p.Text != nil {
		t.Fatal("absent fields must stay nil")
	}
}

func TestMergeSurvivesReserialization(t *testing.T) {
	s := Default()
	s.Apply(&Patch{Scene: ptr("text"), Text: ptr("hello"), DisplayCount: ptr(5)})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back State
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(&back, s) {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", back, *s)
	}
}

func TestMarshal_EmptyCollections(t *testing.T) {
	s := State{Mode: ModeBuiltin}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["canvasLayout"].(map[string]any); !ok {
		t.Fatalf("canvasLayout = %#v, want object", m["canvasLayout"])
	}
	if _, ok := m["canvasElements"].([]any); !ok {
		t.Fatalf("canvasElements = %#v, want array", m["canvasElements"])
	}
}

func TestClone_IsDeep(t *testing.T) {
	s := Default()
	s.CanvasLayout["d1"] = Offset{X: 1}
	s.CanvasElements = append(s.CanvasElements, Element{Type: ElementRect})
	s.CanvasContent = &Content{Type: "solid", Color: "#000"}

	c := s.Clone()
	c.CanvasLayout["d1"] = Offset{X: 99}
	c.CanvasElements[0].Color = "red"
	c.CanvasContent.Color = "#fff"

	if s.CanvasLayout["d1"].X != 1 || s.CanvasElements[0].Color != "" || s.CanvasContent.Color != "#000" {
		t.Fatal("clone shares storage with original")
	}
}
